package aht20

import (
	"fmt"
	"io"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"
)

// DefaultSpeed is the bus clock used when none is configured.
const DefaultSpeed = 100 * physic.KiloHertz

// OpenBus initializes the host drivers and opens the named I2C bus, or
// the first available one if name is blank. The returned closer releases
// the bus.
func OpenBus(name string, speed physic.Frequency) (*i2c.Dev, io.Closer, error) {
	if _, err := host.Init(); err != nil {
		return nil, nil, fmt.Errorf("host init: %w", err)
	}

	bus, err := i2creg.Open(name)
	if err != nil {
		return nil, nil, fmt.Errorf("open i2c bus %q: %w", name, err)
	}

	if speed <= 0 {
		speed = DefaultSpeed
	}
	if err := bus.SetSpeed(speed); err != nil {
		bus.Close()
		return nil, nil, fmt.Errorf("set i2c bus speed %s: %w", speed, err)
	}

	return &i2c.Dev{Bus: bus, Addr: Address}, bus, nil
}

// Driver couples a Dev with the bus it was opened on. Closing it
// releases the bus.
type Driver struct {
	*Dev
	bus io.Closer
}

// Open opens the bus and returns a ready Driver.
func Open(name string, speed physic.Frequency, opts ...Opt) (*Driver, error) {
	dev, bus, err := OpenBus(name, speed)
	if err != nil {
		return nil, err
	}
	d, err := New(dev, opts...)
	if err != nil {
		bus.Close()
		return nil, err
	}
	return &Driver{Dev: d, bus: bus}, nil
}

// Close releases the bus.
func (d *Driver) Close() error {
	return d.bus.Close()
}
