// Package ads1256 drives the TI ADS1256 24-bit delta-sigma ADC through
// the hal contract: register configuration, differential channel
// selection, and raw sample retrieval in both single-shot and
// continuous-read mode.
package ads1256

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/V45692/RaspberrypiPowerPole/internal/hal"
)

var (
	// ErrHardwareTimeout means the device never signalled data-ready
	// within the configured poll bound. Fatal to the session.
	ErrHardwareTimeout = errors.New("ads1256: data-ready timeout")
	// ErrBusTransfer wraps a failed SPI transfer. Fatal to the session:
	// the device register state is unknown after a bus fault.
	ErrBusTransfer = errors.New("ads1256: bus transfer failed")
)

// Config is the device configuration written during Reset. It is fixed
// for the lifetime of a capture session.
type Config struct {
	Status   byte // STATUS register value, typically StatusACAL
	Gain     byte // PGA code for the ADCON register (Gain1..Gain64)
	DataRate byte // DRATE register value, see DataRateCode
}

// ChannelPair is one differential input: AIN<Pos> measured against
// AIN<Neg>.
type ChannelPair struct {
	Pos byte
	Neg byte
}

// Mux returns the MUX register encoding for the pair.
func (p ChannelPair) Mux() byte {
	return p.Pos<<4 | p.Neg
}

func (p ChannelPair) String() string {
	return fmt.Sprintf("%d-%d", p.Pos, p.Neg)
}

// ParseChannelSet parses a channel list like "0-1,2-3,4-5" into the
// ordered set of differential pairs the engine cycles through.
func ParseChannelSet(s string) ([]ChannelPair, error) {
	var set []ChannelPair
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		var pos, neg int
		if _, err := fmt.Sscanf(part, "%d-%d", &pos, &neg); err != nil {
			return nil, fmt.Errorf("invalid channel pair %q (want POS-NEG): %w", part, err)
		}
		if pos < 0 || pos > 7 || neg < 0 || neg > 8 {
			return nil, fmt.Errorf("channel pair %q out of range (inputs are AIN0-AIN7, 8=AINCOM)", part)
		}
		set = append(set, ChannelPair{Pos: byte(pos), Neg: byte(neg)})
	}
	if len(set) == 0 {
		return nil, fmt.Errorf("empty channel set")
	}
	return set, nil
}

// Timing constants from the datasheet, with margin.
const (
	resetSettle     = 100 * time.Millisecond
	commandGap      = 2 * time.Millisecond
	defaultMaxPolls = 1_000_000
)

// Driver owns the device configuration state and sequences commands over
// the bus. Each register write and command is a single chip-select
// bracketed transfer; the device latches exactly one in-flight command,
// so callers must not interleave Driver calls from multiple goroutines
// without their own serialization.
type Driver struct {
	h        hal.HAL
	cfg      Config
	maxPolls int

	// sleep is time.Sleep in production; tests replace it so Reset does
	// not take 300 ms of wall time.
	sleep func(time.Duration)
}

// Option customizes a Driver.
type Option func(*Driver)

// WithMaxReadyPolls bounds the data-ready spin-wait. Without a bound a
// disconnected device would hang the session forever.
func WithMaxReadyPolls(n int) Option {
	return func(d *Driver) { d.maxPolls = n }
}

// WithSleep replaces the delay function used for reset settling and
// command gaps.
func WithSleep(fn func(time.Duration)) Option {
	return func(d *Driver) { d.sleep = fn }
}

func New(h hal.HAL, cfg Config, opts ...Option) *Driver {
	d := &Driver{h: h, cfg: cfg, maxPolls: defaultMaxPolls, sleep: time.Sleep}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Reset performs the full power-on sequence: hardware reset pulse, RESET
// command, then STATUS, ADCON (gain) and DRATE register writes in that
// order. Returns ErrHardwareTimeout if the device stays busy after the
// reset command.
func (d *Driver) Reset() error {
	if err := d.h.SetLine(hal.LineReset, false); err != nil {
		return fmt.Errorf("reset line low: %w", err)
	}
	d.sleep(resetSettle)
	if err := d.h.SetLine(hal.LineReset, true); err != nil {
		return fmt.Errorf("reset line high: %w", err)
	}
	d.sleep(resetSettle)

	if err := d.command(cmdReset); err != nil {
		return err
	}
	d.sleep(resetSettle)

	// The device holds DRDY high while busy after a reset.
	if err := d.WaitReady(); err != nil {
		return fmt.Errorf("device busy after reset: %w", err)
	}

	if err := d.writeRegister(regStatus, d.cfg.Status); err != nil {
		return err
	}
	if err := d.writeRegister(regAdcon, d.cfg.Gain); err != nil {
		return err
	}
	return d.writeRegister(regDrate, d.cfg.DataRate)
}

// SetChannel selects a differential pair and forces a fresh conversion
// (SYNC then WAKEUP). Used by the single-shot polling path.
func (d *Driver) SetChannel(p ChannelPair) error {
	if err := d.writeRegister(regMux, p.Mux()); err != nil {
		return err
	}
	if err := d.command(cmdSync); err != nil {
		return err
	}
	return d.command(cmdWakeup)
}

// SetChannelFast writes the MUX register with no settle gap. In
// continuous-read mode the device free-runs, so the mux write alone is
// enough; this is the only Driver call cheap enough for the data-ready
// callback.
func (d *Driver) SetChannelFast(p ChannelPair) error {
	if _, err := d.h.Transfer([]byte{cmdWreg | regMux, 0x00, p.Mux()}); err != nil {
		return fmt.Errorf("%w: write MUX: %v", ErrBusTransfer, err)
	}
	return nil
}

// StartContinuous puts the device in read-data-continuous mode.
func (d *Driver) StartContinuous() error {
	return d.command(cmdRdatac)
}

// StopContinuous leaves read-data-continuous mode.
func (d *Driver) StopContinuous() error {
	return d.command(cmdSdatac)
}

// ReadSample waits for data-ready, issues RDATA and reads the 24-bit
// conversion result in a single transfer.
func (d *Driver) ReadSample() (int32, error) {
	if err := d.WaitReady(); err != nil {
		return 0, err
	}
	// One atomic transfer: the RDATA opcode followed by three clock-out
	// bytes. At 2 MHz SCLK the opcode byte alone exceeds the t6 delay
	// the device needs before shifting out data.
	rx, err := d.h.Transfer([]byte{cmdRdata, 0x00, 0x00, 0x00})
	if err != nil {
		return 0, fmt.Errorf("%w: RDATA: %v", ErrBusTransfer, err)
	}
	return signExtend24(rx[1], rx[2], rx[3]), nil
}

// ReadContinuous reads the current conversion in continuous mode. The
// caller is responsible for only calling this after a data-ready edge.
func (d *Driver) ReadContinuous() (int32, error) {
	rx, err := d.h.Transfer([]byte{0x00, 0x00, 0x00})
	if err != nil {
		return 0, fmt.Errorf("%w: continuous read: %v", ErrBusTransfer, err)
	}
	return signExtend24(rx[0], rx[1], rx[2]), nil
}

// WaitReady spins until the data-ready line goes low (active). Returns
// ErrHardwareTimeout once the poll bound is exhausted.
func (d *Driver) WaitReady() error {
	for i := 0; i < d.maxPolls; i++ {
		busy, err := d.h.ReadLine(hal.LineDataReady)
		if err != nil {
			return fmt.Errorf("%w: read DRDY: %v", ErrBusTransfer, err)
		}
		if !busy {
			return nil
		}
	}
	return fmt.Errorf("%w after %d polls", ErrHardwareTimeout, d.maxPolls)
}

func (d *Driver) writeRegister(reg, value byte) error {
	// WREG opcode, count-1 byte (one register), value.
	if _, err := d.h.Transfer([]byte{cmdWreg | reg, 0x00, value}); err != nil {
		return fmt.Errorf("%w: write register 0x%02X: %v", ErrBusTransfer, reg, err)
	}
	d.sleep(commandGap)
	return nil
}

func (d *Driver) command(cmd byte) error {
	if _, err := d.h.Transfer([]byte{cmd}); err != nil {
		return fmt.Errorf("%w: command 0x%02X: %v", ErrBusTransfer, cmd, err)
	}
	d.sleep(commandGap)
	return nil
}

// signExtend24 assembles a big-endian 24-bit two's-complement value and
// sign-extends bit 23 into an int32. Dropping the extension silently
// corrupts every negative reading.
func signExtend24(b0, b1, b2 byte) int32 {
	v := uint32(b0)<<16 | uint32(b1)<<8 | uint32(b2)
	if v&0x800000 != 0 {
		v |= 0xFF000000
	}
	return int32(v)
}
