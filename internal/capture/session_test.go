package capture

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/V45692/RaspberrypiPowerPole/internal/ads1256"
	"github.com/V45692/RaspberrypiPowerPole/internal/hal"
)

// raw24 encodes a signed value as the device's big-endian 24-bit
// two's-complement wire format.
func raw24(v int32) []byte {
	u := uint32(v) & 0xFFFFFF
	return []byte{byte(u >> 16), byte(u >> 8), byte(u)}
}

// fakeClock is a settable clock for driving engine timestamps.
type fakeClock struct {
	mu   sync.Mutex
	base time.Time
	t    time.Time
}

func newFakeClock() *fakeClock {
	base := time.Unix(1000, 0)
	return &fakeClock{base: base, t: base}
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) set(elapsed time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.base.Add(elapsed)
}

// scriptReads answers RDATA (polling) and continuous-mode data reads
// with successive values from vals; every other transfer gets zeros.
func scriptReads(m *hal.Mock, vals []int32) {
	i := 0
	m.TransferFn = func(tx []byte) ([]byte, error) {
		switch {
		case len(tx) == 4 && tx[0] == 0x01: // RDATA + clock-out
			v := vals[i%len(vals)]
			i++
			return append([]byte{0x00}, raw24(v)...), nil
		case len(tx) == 3 && tx[0] == 0x00: // continuous-mode read
			v := vals[i%len(vals)]
			i++
			return raw24(v), nil
		default:
			return make([]byte, len(tx)), nil
		}
	}
}

func newTestWriter(t *testing.T) *Writer {
	t.Helper()
	w, err := Create(filepath.Join(t.TempDir(), "session.bin"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return w
}

func TestEngineStopsAtDuration(t *testing.T) {
	m := hal.NewMock()
	scriptReads(m, []int32{10, -20})
	drv := ads1256.New(m, ads1256.Config{}, ads1256.WithSleep(func(time.Duration) {}))

	channels := []ads1256.ChannelPair{{Pos: 0, Neg: 1}, {Pos: 2, Neg: 3}}
	e := NewEngine(drv, channels, 350*time.Millisecond)

	// The clock advances 100 ms per observation: one tick for the start
	// and one per cycle boundary.
	base := time.Unix(1000, 0)
	calls := 0
	e.now = func() time.Time {
		tm := base.Add(time.Duration(calls) * 100 * time.Millisecond)
		calls++
		return tm
	}

	w := newTestWriter(t)
	records, err := e.Run(context.Background(), w)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if cerr := w.Close(); cerr != nil {
		t.Fatalf("Close: %v", cerr)
	}

	// Cycles at elapsed 0.1, 0.2, 0.3 run; the 0.4 boundary is past the
	// 0.35 s duration.
	if records != 3 {
		t.Fatalf("records = %d; want 3", records)
	}

	f, err := os.Open(w.Name())
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	r := NewReader(f, CycleRecordSize(2))
	for i := 0; i < records; i++ {
		b, err := r.Next()
		if err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
		rec, err := DecodeCycleRecord(b, 2)
		if err != nil {
			t.Fatalf("decode record %d: %v", i, err)
		}
		want := float32((time.Duration(i+1) * 100 * time.Millisecond).Seconds())
		if rec.ElapsedS != want {
			t.Errorf("record %d elapsed = %g; want %g", i, rec.ElapsedS, want)
		}
		if rec.Raw[0] != 10 || rec.Raw[1] != -20 {
			t.Errorf("record %d raw = %v; want [10 -20]", i, rec.Raw)
		}
	}
}

func TestEngineCancellationClosesCleanLog(t *testing.T) {
	m := hal.NewMock()
	scriptReads(m, []int32{1, 2})
	drv := ads1256.New(m, ads1256.Config{}, ads1256.WithSleep(func(time.Duration) {}))

	channels := []ads1256.ChannelPair{{Pos: 0, Neg: 1}, {Pos: 2, Neg: 3}}
	e := NewEngine(drv, channels, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	base := time.Unix(1000, 0)
	calls := 0
	e.now = func() time.Time {
		tm := base.Add(time.Duration(calls) * 100 * time.Millisecond)
		calls++
		if calls > 2 {
			// Cancel mid-session; the engine must notice at the next
			// cycle boundary, never mid-cycle.
			cancel()
		}
		return tm
	}

	w := newTestWriter(t)
	records, err := e.Run(ctx, w)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run error = %v; want context.Canceled", err)
	}
	if records == 0 {
		t.Fatal("expected at least one record before cancellation")
	}
	if cerr := w.Close(); cerr != nil {
		t.Fatalf("Close: %v", cerr)
	}

	// The log must contain only whole records.
	info, err := os.Stat(w.Name())
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != int64(records*CycleRecordSize(2)) {
		t.Errorf("log size = %d; want %d whole records (%d bytes)",
			info.Size(), records, records*CycleRecordSize(2))
	}
}

func TestEngineAbortsOnDriverError(t *testing.T) {
	m := hal.NewMock()
	m.TransferFn = func(tx []byte) ([]byte, error) {
		return nil, errors.New("bus fault")
	}
	drv := ads1256.New(m, ads1256.Config{}, ads1256.WithSleep(func(time.Duration) {}))

	e := NewEngine(drv, []ads1256.ChannelPair{{Pos: 0, Neg: 1}}, time.Hour)
	e.now = time.Now

	w := newTestWriter(t)
	defer w.Close()

	records, err := e.Run(context.Background(), w)
	if !errors.Is(err, ads1256.ErrBusTransfer) {
		t.Fatalf("Run error = %v; want ErrBusTransfer", err)
	}
	if records != 0 {
		t.Errorf("records = %d; want 0", records)
	}
}
