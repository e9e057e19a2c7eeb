package capture

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/V45692/RaspberrypiPowerPole/internal/ads1256"
	"github.com/V45692/RaspberrypiPowerPole/internal/hal"
)

func newInterruptFixture(t *testing.T, channels []ads1256.ChannelPair, vals []int32) (*InterruptEngine, *hal.Mock, *fakeClock, *Writer) {
	t.Helper()
	m := hal.NewMock()
	scriptReads(m, vals)
	drv := ads1256.New(m, ads1256.Config{}, ads1256.WithSleep(func(time.Duration) {}))

	e := NewInterruptEngine(drv, m, channels, time.Hour)
	clk := newFakeClock()
	e.now = clk.now

	return e, m, clk, newTestWriter(t)
}

// The end-to-end scenario: a 2-channel set, four data-ready edges with
// known values and timestamps, four exact per-sample records.
func TestInterruptEngineEndToEnd(t *testing.T) {
	channels := []ads1256.ChannelPair{{Pos: 0, Neg: 1}, {Pos: 2, Neg: 3}}
	vals := []int32{100, -200, 300, -400}
	e, m, clk, w := newInterruptFixture(t, channels, vals)

	if err := e.Start(w); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !m.Watched() {
		t.Fatal("Start did not register the DRDY watch")
	}

	for i := range vals {
		clk.set(time.Duration(i+1) * 100 * time.Millisecond)
		m.FireEdge()
	}

	records, err := e.Stop()
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if records != 4 {
		t.Fatalf("records = %d; want 4", records)
	}
	if m.Watched() {
		t.Error("Stop did not cancel the DRDY watch")
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f, err := os.Open(w.Name())
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	want := []SampleRecord{
		{ElapsedS: float32((100 * time.Millisecond).Seconds()), Channel: 0, Raw: 100},
		{ElapsedS: float32((200 * time.Millisecond).Seconds()), Channel: 1, Raw: -200},
		{ElapsedS: float32((300 * time.Millisecond).Seconds()), Channel: 0, Raw: 300},
		{ElapsedS: float32((400 * time.Millisecond).Seconds()), Channel: 1, Raw: -400},
	}
	r := NewReader(f, SampleRecordSize)
	for i, wantRec := range want {
		b, err := r.Next()
		if err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
		got, err := DecodeSampleRecord(b)
		if err != nil {
			t.Fatalf("decode record %d: %v", i, err)
		}
		if got != wantRec {
			t.Errorf("record %d = %+v; want %+v", i, got, wantRec)
		}
	}
}

// After N firings the channel index wraps to 0 with no skips or
// repeats.
func TestInterruptEngineChannelCycling(t *testing.T) {
	channels := []ads1256.ChannelPair{{Pos: 0, Neg: 1}, {Pos: 2, Neg: 3}, {Pos: 4, Neg: 5}}
	e, m, _, w := newInterruptFixture(t, channels, []int32{1})

	if err := e.Start(w); err != nil {
		t.Fatalf("Start: %v", err)
	}
	const firings = 7
	for i := 0; i < firings; i++ {
		m.FireEdge()
	}
	records, err := e.Stop()
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if records != firings {
		t.Fatalf("records = %d; want %d", records, firings)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(w.Name())
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	r := NewReader(f, SampleRecordSize)
	for i := 0; i < firings; i++ {
		b, err := r.Next()
		if err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
		rec, err := DecodeSampleRecord(b)
		if err != nil {
			t.Fatal(err)
		}
		if rec.Channel != int32(i%len(channels)) {
			t.Errorf("firing %d channel = %d; want %d", i, rec.Channel, i%len(channels))
		}
	}
}

// An edge that arrives after Stop must not write past session end.
func TestInterruptEngineLateEdgeIsNoOp(t *testing.T) {
	channels := []ads1256.ChannelPair{{Pos: 0, Neg: 1}}
	e, m, _, w := newInterruptFixture(t, channels, []int32{7})

	if err := e.Start(w); err != nil {
		t.Fatalf("Start: %v", err)
	}
	m.FireEdge()
	records, err := e.Stop()
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if records != 1 {
		t.Fatalf("records = %d; want 1", records)
	}

	// Simulate the race where the hardware edge fires between the
	// running flag being cleared and deregistration: call the callback
	// directly.
	e.onDataReady()

	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(w.Name())
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != int64(records*SampleRecordSize) {
		t.Errorf("log size = %d; want %d (late edge must not append)",
			info.Size(), records*SampleRecordSize)
	}
}

func TestInterruptEngineAbortsOnDriverError(t *testing.T) {
	channels := []ads1256.ChannelPair{{Pos: 0, Neg: 1}, {Pos: 2, Neg: 3}}
	e, m, _, w := newInterruptFixture(t, channels, []int32{5})

	if err := e.Start(w); err != nil {
		t.Fatalf("Start: %v", err)
	}
	m.FireEdge()
	m.FireEdge()

	// Bus wedges; the next callback records the failure and stops the
	// session.
	m.TransferFn = func(tx []byte) ([]byte, error) {
		return nil, errors.New("bus fault")
	}
	m.FireEdge()
	m.FireEdge() // no-op: session already stopped

	records, err := e.Stop()
	if !errors.Is(err, ads1256.ErrBusTransfer) {
		t.Fatalf("Stop error = %v; want ErrBusTransfer", err)
	}
	if records != 2 {
		t.Errorf("records = %d; want 2", records)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
}
