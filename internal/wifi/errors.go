package wifi

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors returned by Manager.Connect, possibly wrapped.
var (
	ErrScan             = errors.New("wifi scan failed")
	ErrConfigure        = errors.New("wifi configuration failed")
	ErrTimeout          = errors.New("timed out waiting for wifi status")
	ErrUnexpectedStatus = errors.New("unexpected wifi status")
)

// TimeoutError is returned when the link did not settle in time.
type TimeoutError struct {
	Timeout time.Duration
	Last    Status // Last observed status.
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%v after %v (last status: %v)", ErrTimeout, e.Timeout, e.Last)
}

func (e *TimeoutError) Unwrap() error { return ErrTimeout }

// StatusError is returned when the settled status is not the accepted one.
type StatusError struct {
	Status Status
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%v: %v", ErrUnexpectedStatus, e.Status)
}

func (e *StatusError) Unwrap() error { return ErrUnexpectedStatus }
