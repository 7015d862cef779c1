package shiftreg

import (
	"fmt"

	"github.com/fulr/spidev"
	"github.com/jrockway/nixie-clock/control/tubes"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
)

// latched frames an SPI transfer with the latch line.
func latched(latch Line, xfer func([]byte) error, f tubes.Frame) error {
	if err := latch.Out(gpio.Low); err != nil {
		return fmt.Errorf("latch low: %w", err)
	}
	if err := xfer(wireBytes(f)); err != nil {
		return err
	}
	if err := latch.Out(gpio.High); err != nil {
		return fmt.Errorf("latch high: %w", err)
	}
	return nil
}

// SPIDev sends frames through a spidev character device (e.g. /dev/spidev0.0), with the latch on
// a separate line.  MOSI goes to the serial input of the first register and SCLK to the shift
// clock.
type SPIDev struct {
	dev   *spidev.SPIDevice
	latch Line
}

// NewSPIDev opens the spidev device at path.
func NewSPIDev(path string, latch Line) (*SPIDev, error) {
	dev, err := spidev.NewSPIDevice(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := latch.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("init latch line: %w", err)
	}
	return &SPIDev{dev: dev, latch: latch}, nil
}

// Send implements Bus.
func (s *SPIDev) Send(f tubes.Frame) error {
	return latched(s.latch, func(b []byte) error {
		s.dev.Xfer(b)
		return nil
	}, f)
}

// Close releases the device.
func (s *SPIDev) Close() {
	s.dev.Close()
}

// Port sends frames over a periph.io SPI port.
type Port struct {
	conn  spi.Conn
	latch Line
}

// Speed is the SPI clock rate used for Port.  The 74HC595 is specified well past this even at
// 2V.
const Speed = 1 * physic.MegaHertz

// NewPort connects to p in mode 0.
func NewPort(p spi.Port, latch Line) (*Port, error) {
	conn, err := p.Connect(Speed, spi.Mode0, 8)
	if err != nil {
		return nil, fmt.Errorf("connect spi port: %w", err)
	}
	if err := latch.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("init latch line: %w", err)
	}
	return &Port{conn: conn, latch: latch}, nil
}

// Send implements Bus.
func (p *Port) Send(f tubes.Frame) error {
	return latched(p.latch, func(b []byte) error {
		if err := p.conn.Tx(b, nil); err != nil {
			return fmt.Errorf("spi tx: %w", err)
		}
		return nil
	}, f)
}
