package main

import (
	"errors"

	"github.com/ayusman/gesturedog/internal/actuator"
	"github.com/ayusman/gesturedog/internal/app"
	"github.com/ayusman/gesturedog/internal/config"
	"github.com/ayusman/gesturedog/internal/frameslot"
	"github.com/ayusman/gesturedog/internal/producer"
)

// Process exit codes.
const (
	exitOK       = 0
	exitActuator = 1
	exitCapture  = 2
	exitSlot     = 3
	exitConfig   = 4
	exitStore    = 5
	exitOther    = 6
)

// exitError carries the process exit code for err.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

// exitCode classifies err. An explicit exitError wins over the sentinels.
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}

	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}

	switch {
	case errors.Is(err, config.ErrInvalid):
		return exitConfig
	case errors.Is(err, app.ErrStore):
		return exitStore
	case errors.Is(err, producer.ErrSlot),
		errors.Is(err, frameslot.ErrBadMetadata),
		errors.Is(err, frameslot.ErrSizeMismatch):
		return exitSlot
	case errors.Is(err, producer.ErrCapture):
		return exitCapture
	case errors.Is(err, actuator.ErrConnect):
		return exitActuator
	}
	return exitOther
}
