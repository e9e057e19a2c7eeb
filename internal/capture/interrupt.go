package capture

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/V45692/RaspberrypiPowerPole/internal/ads1256"
	"github.com/V45692/RaspberrypiPowerPole/internal/hal"
)

// sessionState is the state shared between the control goroutine and
// the data-ready callback: the running flag, the current channel index
// and the log writer. One mutex guards all of it; the callback body is
// short and bounded, so a single lock is both sufficient and safer than
// per-field locking.
type sessionState struct {
	mu      sync.Mutex
	running bool
	channel int
	w       *Writer
	err     error
}

// InterruptEngine is the interrupt-driven sampling engine. The device
// free-runs in continuous-read mode; every falling edge on the
// data-ready line produces one per-sample record and advances the mux
// to the next channel in the set.
type InterruptEngine struct {
	drv      *ads1256.Driver
	h        hal.HAL
	channels []ads1256.ChannelPair
	duration time.Duration

	now   func() time.Time
	start time.Time
	state sessionState
	watch hal.Watch
}

func NewInterruptEngine(drv *ads1256.Driver, h hal.HAL, channels []ads1256.ChannelPair, duration time.Duration) *InterruptEngine {
	return &InterruptEngine{drv: drv, h: h, channels: channels, duration: duration, now: time.Now}
}

// Start arms the session: selects channel 0, enters continuous-read
// mode and registers the data-ready edge callback. After Start returns,
// records accumulate in w until Stop.
func (e *InterruptEngine) Start(w *Writer) error {
	if err := e.drv.SetChannelFast(e.channels[0]); err != nil {
		return fmt.Errorf("arm channel 0: %w", err)
	}
	if err := e.drv.StartContinuous(); err != nil {
		return fmt.Errorf("enter continuous mode: %w", err)
	}

	e.state.mu.Lock()
	e.state.running = true
	e.state.channel = 0
	e.state.w = w
	e.state.err = nil
	e.state.mu.Unlock()
	e.start = e.now()

	watch, err := e.h.Watch(hal.LineDataReady, hal.FallingEdge, e.onDataReady)
	if err != nil {
		e.state.mu.Lock()
		e.state.running = false
		e.state.mu.Unlock()
		e.drv.StopContinuous()
		return fmt.Errorf("register DRDY watch: %w", err)
	}
	e.watch = watch
	return nil
}

// onDataReady runs on every data-ready edge. The whole body holds the
// session lock: one bus read, one timestamp, one record write, one
// channel increment, one mux write. An edge that arrives after Stop has
// cleared the running flag is a no-op.
func (e *InterruptEngine) onDataReady() {
	e.state.mu.Lock()
	defer e.state.mu.Unlock()

	if !e.state.running {
		return
	}

	raw, err := e.drv.ReadContinuous()
	if err != nil {
		e.state.err = err
		e.state.running = false
		return
	}

	rec := SampleRecord{
		ElapsedS: float32(e.now().Sub(e.start).Seconds()),
		Channel:  int32(e.state.channel),
		Raw:      raw,
	}
	if err := e.state.w.WriteSample(rec); err != nil {
		e.state.err = err
		e.state.running = false
		return
	}

	e.state.channel = (e.state.channel + 1) % len(e.channels)
	if err := e.drv.SetChannelFast(e.channels[e.state.channel]); err != nil {
		e.state.err = err
		e.state.running = false
	}
}

// Stop drains the session: clears the running flag under the session
// lock (so in-flight callbacks finish and later ones become no-ops),
// deregisters the edge watch and leaves continuous-read mode. It
// returns the record count and the first error the callback hit, if
// any.
func (e *InterruptEngine) Stop() (int, error) {
	e.state.mu.Lock()
	e.state.running = false
	err := e.state.err
	records := e.state.w.Records()
	e.state.mu.Unlock()

	if e.watch != nil {
		if cerr := e.watch.Cancel(); cerr != nil && err == nil {
			err = fmt.Errorf("cancel DRDY watch: %w", cerr)
		}
		e.watch = nil
	}
	if serr := e.drv.StopContinuous(); serr != nil && err == nil {
		err = serr
	}
	return records, err
}

// Run captures for the configured duration (or until ctx is cancelled),
// then stops. The control goroutine does nothing but sleep between
// Start and Stop; all sampling happens in the edge callback.
func (e *InterruptEngine) Run(ctx context.Context, w *Writer) (int, error) {
	if err := e.Start(w); err != nil {
		return 0, err
	}

	timer := time.NewTimer(e.duration)
	defer timer.Stop()

	var cause error
	select {
	case <-ctx.Done():
		cause = ctx.Err()
	case <-timer.C:
	}

	records, err := e.Stop()
	if err != nil {
		return records, err
	}
	return records, cause
}
