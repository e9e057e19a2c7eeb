package capture

import (
	"context"
	"fmt"
	"time"

	"github.com/V45692/RaspberrypiPowerPole/internal/ads1256"
)

// Engine is the polling-variant sampling engine: it cycles the channel
// set round-robin, reading every channel per cycle, and writes one
// full-cycle record per pass until the configured duration elapses.
//
// Control flow is strictly sequential; cancellation and the duration
// check only take effect at cycle boundaries, never mid-transfer.
type Engine struct {
	drv      *ads1256.Driver
	channels []ads1256.ChannelPair
	duration time.Duration

	// now is time.Now in production; tests substitute a fake clock.
	now func() time.Time
}

func NewEngine(drv *ads1256.Driver, channels []ads1256.ChannelPair, duration time.Duration) *Engine {
	return &Engine{drv: drv, channels: channels, duration: duration, now: time.Now}
}

// Run captures until the duration elapses or ctx is cancelled, writing
// full-cycle records to w. It returns the number of records written.
// A cancelled context is reported as ctx.Err(); the log is still valid.
// Any driver error aborts the session immediately: the device state
// after a fault is unknown and unsafe to resume from.
func (e *Engine) Run(ctx context.Context, w *Writer) (int, error) {
	start := e.now()
	raw := make([]int32, len(e.channels))

	for {
		select {
		case <-ctx.Done():
			return w.Records(), ctx.Err()
		default:
		}

		elapsed := e.now().Sub(start)
		if elapsed >= e.duration {
			return w.Records(), nil
		}

		for i, ch := range e.channels {
			if err := e.drv.SetChannel(ch); err != nil {
				return w.Records(), fmt.Errorf("select channel %s: %w", ch, err)
			}
			v, err := e.drv.ReadSample()
			if err != nil {
				return w.Records(), fmt.Errorf("read channel %s: %w", ch, err)
			}
			raw[i] = v
		}

		rec := CycleRecord{ElapsedS: float32(elapsed.Seconds()), Raw: raw}
		if err := w.WriteCycle(rec); err != nil {
			return w.Records(), err
		}
	}
}
