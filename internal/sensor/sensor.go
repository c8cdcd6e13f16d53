// Package sensor provides exclusive, blocking access to a
// temperature/humidity sensor.
package sensor

import (
	"errors"
	"fmt"
	"io"
)

var (
	// ErrBusy is returned when the sensor never finished a measurement.
	ErrBusy = errors.New("sensor busy")
	// ErrChecksum is returned when a measurement fails its CRC check.
	ErrChecksum = errors.New("sensor checksum mismatch")
)

// Sample is a single measurement.
type Sample struct {
	Humidity    float64 // Relative humidity, percent.
	Temperature float64 // Degrees Celsius.
}

// Driver reads samples from a sensor.
type Driver interface {
	Read() (Sample, error)
}

// Channel owns a Driver and the bus behind it. It is not safe for
// concurrent use.
type Channel struct {
	d Driver
}

// NewChannel takes ownership of d. The caller must not use d afterwards.
func NewChannel(d Driver) *Channel {
	return &Channel{d: d}
}

// Read blocks until a sample is taken or the driver fails.
func (c *Channel) Read() (Sample, error) {
	s, err := c.d.Read()
	if err != nil {
		return Sample{}, fmt.Errorf("sensor read: %w", err)
	}
	return s, nil
}

// Close releases the driver if it holds resources.
func (c *Channel) Close() error {
	if cl, ok := c.d.(io.Closer); ok {
		return cl.Close()
	}
	return nil
}
