package hal

import (
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// Periph implements HAL on top of periph.io: a hardware SPI port for
// transfers and named GPIO lines for reset and data-ready.
type Periph struct {
	port  spi.PortCloser
	conn  spi.Conn
	lines map[string]gpio.PinIO
}

// NewPeriph opens the given SPI device in mode 1 at speedHz and resolves
// the named GPIO lines (hal line name -> board pin name, e.g.
// {"drdy": "GPIO17", "reset": "GPIO18"}).
func NewPeriph(spiDev string, speedHz int, pins map[string]string) (*Periph, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}

	port, err := spireg.Open(spiDev)
	if err != nil {
		return nil, fmt.Errorf("open SPI port %s: %w", spiDev, err)
	}

	// ADS1256 talks SPI mode 1 (CPOL=0, CPHA=1), 8-bit words.
	conn, err := port.Connect(physic.Frequency(speedHz)*physic.Hertz, spi.Mode1, 8)
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("SPI connect (%s): %w", spiDev, err)
	}

	lines := make(map[string]gpio.PinIO, len(pins))
	for name, pinName := range pins {
		pin := gpioreg.ByName(pinName)
		if pin == nil {
			port.Close()
			return nil, fmt.Errorf("GPIO pin %q (line %q) not found", pinName, name)
		}
		lines[name] = pin
	}

	return &Periph{port: port, conn: conn, lines: lines}, nil
}

// Transfer performs one full-duplex SPI transaction. The port asserts
// chip-select for the duration of the transfer, so the device sees the
// whole tx as a single command.
func (p *Periph) Transfer(tx []byte) ([]byte, error) {
	rx := make([]byte, len(tx))
	if err := p.conn.Tx(tx, rx); err != nil {
		return nil, fmt.Errorf("SPI transfer: %w", err)
	}
	return rx, nil
}

func (p *Periph) SetLine(name string, high bool) error {
	pin, err := p.line(name)
	if err != nil {
		return err
	}
	if err := pin.Out(gpio.Level(high)); err != nil {
		return fmt.Errorf("set line %q: %w", name, err)
	}
	return nil
}

func (p *Periph) ReadLine(name string) (bool, error) {
	pin, err := p.line(name)
	if err != nil {
		return false, err
	}
	return bool(pin.Read()), nil
}

// Watch configures edge detection on the line and runs fn from a
// dedicated goroutine on every observed edge. Cancel stops the goroutine
// and disables edge detection before returning.
func (p *Periph) Watch(line string, edge Edge, fn func()) (Watch, error) {
	pin, err := p.line(line)
	if err != nil {
		return nil, err
	}

	gpioEdge := gpio.RisingEdge
	if edge == FallingEdge {
		gpioEdge = gpio.FallingEdge
	}
	if err := pin.In(gpio.PullUp, gpioEdge); err != nil {
		return nil, fmt.Errorf("watch line %q: %w", line, err)
	}

	w := &periphWatch{pin: pin, stop: make(chan struct{})}
	w.done.Add(1)
	go func() {
		defer w.done.Done()
		for {
			select {
			case <-w.stop:
				return
			default:
			}
			// Short timeout so Cancel is honored promptly even if no
			// edges arrive.
			if pin.WaitForEdge(100 * time.Millisecond) {
				select {
				case <-w.stop:
					return
				default:
					fn()
				}
			}
		}
	}()
	return w, nil
}

func (p *Periph) Close() error {
	return p.port.Close()
}

func (p *Periph) line(name string) (gpio.PinIO, error) {
	pin, ok := p.lines[name]
	if !ok {
		return nil, fmt.Errorf("unknown GPIO line %q", name)
	}
	return pin, nil
}

type periphWatch struct {
	pin  gpio.PinIO
	stop chan struct{}
	done sync.WaitGroup
	once sync.Once
}

func (w *periphWatch) Cancel() error {
	w.once.Do(func() {
		close(w.stop)
		w.done.Wait()
	})
	// Disable edge detection; the pin stays an input.
	return w.pin.In(gpio.PullUp, gpio.NoEdge)
}
