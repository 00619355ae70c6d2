// Package main provides a reference actuator plugin. It accepts the sport
// actions the dispatcher sends, optionally waits to mimic a robot motion and
// appends each accepted action to a log file.
package main

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"time"
)

// Request represents the input from the plugin executor.
type Request struct {
	Action string          `json:"action"`
	State  string          `json:"state"`
	Config json.RawMessage `json:"config"`
	Params json.RawMessage `json:"params"`
}

// Response represents the output to the plugin executor.
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// config is the actuator section forwarded by the host.
type config struct {
	Interface string `json:"interface"`
	Delay     string `json:"delay"`
	Log       string `json:"log"`
}

var sportActions = map[string]bool{
	"Hello":       true,
	"FrontPounce": true,
	"Heart":       true,
	"StandUp":     true,
	"Damp":        true,
	"Stretch":     true,
}

func main() {
	var req Request
	if err := json.NewDecoder(os.Stdin).Decode(&req); err != nil {
		writeErrorResponse(fmt.Sprintf("failed to decode request: %v", err))
		return
	}

	var cfg config
	if len(req.Config) > 0 {
		if err := json.Unmarshal(req.Config, &cfg); err != nil {
			writeErrorResponse(fmt.Sprintf("invalid config: %v", err))
			return
		}
	}

	if req.Action == "init" {
		if err := checkInterface(cfg.Interface); err != nil {
			writeErrorResponse(err.Error())
			return
		}
		writeSuccessResponse(map[string]string{"interface": cfg.Interface})
		return
	}

	if !sportActions[req.Action] {
		writeErrorResponse(fmt.Sprintf("unknown action: %s", req.Action))
		return
	}

	if cfg.Delay != "" {
		d, err := time.ParseDuration(cfg.Delay)
		if err != nil {
			writeErrorResponse(fmt.Sprintf("invalid delay %q: %v", cfg.Delay, err))
			return
		}
		time.Sleep(d)
	}

	if cfg.Log != "" {
		if err := appendLog(cfg.Log, req); err != nil {
			writeErrorResponse(fmt.Sprintf("action %s failed: %v", req.Action, err))
			return
		}
	}

	writeSuccessResponse(map[string]string{"action": req.Action, "state": req.State})
}

// checkInterface verifies the robot network interface exists. An empty name
// skips the check.
func checkInterface(name string) error {
	if name == "" {
		return nil
	}
	if _, err := net.InterfaceByName(name); err != nil {
		return fmt.Errorf("network interface %s: %v", name, err)
	}
	return nil
}

func appendLog(path string, req Request) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = fmt.Fprintf(f, "%s %s %s\n", time.Now().UTC().Format(time.RFC3339Nano), req.State, req.Action)
	return err
}

// writeErrorResponse writes an error response to stdout.
func writeErrorResponse(errMsg string) {
	json.NewEncoder(os.Stdout).Encode(Response{Success: false, Error: errMsg})
}

// writeSuccessResponse writes a success response to stdout.
func writeSuccessResponse(data any) {
	raw, _ := json.Marshal(data)
	json.NewEncoder(os.Stdout).Encode(Response{Success: true, Data: raw})
}
