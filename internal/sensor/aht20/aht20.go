// Package aht20 drives the ASAIR AHT20 temperature and humidity sensor
// over I2C.
package aht20

import (
	"fmt"
	"time"

	"github.com/awilliams/aht20-agent/internal/sensor"
)

// Address is the sensor's fixed I2C address.
const Address = 0x38

const (
	cmdStatus  = 0x71
	statusBusy = 0x80
	statusCal  = 0x08

	initDelay    = 10 * time.Millisecond
	measureDelay = 80 * time.Millisecond
	busyDelay    = 10 * time.Millisecond
	maxBusyPolls = 5
)

var (
	cmdInit    = []byte{0xBE, 0x08, 0x00}
	cmdTrigger = []byte{0xAC, 0x33, 0x00}
)

// Conn is a connection to the sensor on its bus. periph's i2c.Dev
// satisfies it.
type Conn interface {
	// Tx writes w, then reads len(r) bytes into r. Either may be empty.
	Tx(w, r []byte) error
}

// Opt is a configuration option for Dev.
type Opt func(*Dev)

// WithSleep replaces time.Sleep, used while waiting on the sensor.
func WithSleep(f func(time.Duration)) Opt {
	return func(d *Dev) {
		d.sleep = f
	}
}

// Dev is an AHT20 sensor. It implements sensor.Driver.
type Dev struct {
	c     Conn
	sleep func(time.Duration)
	buf   [7]byte
}

// New returns a Dev using c. The sensor is calibrated if its status
// reports it is not.
func New(c Conn, opts ...Opt) (*Dev, error) {
	d := Dev{c: c, sleep: time.Sleep}
	for _, opt := range opts {
		opt(&d)
	}

	status, err := d.status()
	if err != nil {
		return nil, fmt.Errorf("aht20: read status: %w", err)
	}
	if status&statusCal == 0 {
		if err := d.c.Tx(cmdInit, nil); err != nil {
			return nil, fmt.Errorf("aht20: calibrate: %w", err)
		}
		d.sleep(initDelay)
	}
	return &d, nil
}

func (d *Dev) status() (byte, error) {
	var b [1]byte
	if err := d.c.Tx([]byte{cmdStatus}, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

// Read triggers a measurement and returns the result.
func (d *Dev) Read() (sensor.Sample, error) {
	if err := d.c.Tx(cmdTrigger, nil); err != nil {
		return sensor.Sample{}, fmt.Errorf("aht20: trigger: %w", err)
	}
	d.sleep(measureDelay)

	data := d.buf[:]
	for i := 0; ; i++ {
		if err := d.c.Tx(nil, data); err != nil {
			return sensor.Sample{}, fmt.Errorf("aht20: read: %w", err)
		}
		if data[0]&statusBusy == 0 {
			break
		}
		if i+1 >= maxBusyPolls {
			return sensor.Sample{}, fmt.Errorf("aht20: %w", sensor.ErrBusy)
		}
		d.sleep(busyDelay)
	}

	if crc := CRC(data[:6]); crc != data[6] {
		return sensor.Sample{}, fmt.Errorf("aht20: %w: got 0x%02X, computed 0x%02X", sensor.ErrChecksum, data[6], crc)
	}

	return decode(data), nil
}

// decode converts the 20-bit raw humidity and temperature readings.
func decode(data []byte) sensor.Sample {
	rawH := uint32(data[1])<<12 | uint32(data[2])<<4 | uint32(data[3])>>4
	rawT := uint32(data[3]&0x0F)<<16 | uint32(data[4])<<8 | uint32(data[5])
	return sensor.Sample{
		Humidity:    float64(rawH) * 100 / (1 << 20),
		Temperature: float64(rawT)*200/(1<<20) - 50,
	}
}

// CRC computes the sensor's CRC-8 (polynomial 0x31, initial value 0xFF).
func CRC(data []byte) byte {
	crc := byte(0xFF)
	for _, b := range data {
		crc ^= b
		for i := 0; i < 8; i++ {
			if crc&0x80 != 0 {
				crc = crc<<1 ^ 0x31
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
