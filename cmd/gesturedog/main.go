// Command gesturedog turns hand gestures seen by a camera into robot dog
// actions and streams the annotated video.
package main

import "os"

func main() {
	os.Exit(Execute())
}
