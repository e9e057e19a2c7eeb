package hal

import (
	"fmt"
	"sync"
)

// Mock is an in-memory HAL for tests: it records every transfer and line
// operation, answers transfers through a caller-supplied function, and
// lets tests fire edge callbacks synchronously.
type Mock struct {
	mu sync.Mutex

	// TransferFn answers each transfer. When nil the mock echoes a
	// zero-filled slice of the same length, which is what an idle bus
	// looks like.
	TransferFn func(tx []byte) ([]byte, error)

	Transfers [][]byte
	levels    map[string]bool
	watchFn   func()
	watchLine string
	closed    bool
}

func NewMock() *Mock {
	return &Mock{levels: make(map[string]bool)}
}

func (m *Mock) Transfer(tx []byte) ([]byte, error) {
	m.mu.Lock()
	cp := make([]byte, len(tx))
	copy(cp, tx)
	m.Transfers = append(m.Transfers, cp)
	fn := m.TransferFn
	m.mu.Unlock()

	if fn != nil {
		return fn(tx)
	}
	return make([]byte, len(tx)), nil
}

func (m *Mock) SetLine(name string, high bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.levels[name] = high
	return nil
}

func (m *Mock) ReadLine(name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.levels[name], nil
}

// SetLevel drives an input line from the test side, simulating the
// device.
func (m *Mock) SetLevel(name string, high bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.levels[name] = high
}

func (m *Mock) Watch(line string, edge Edge, fn func()) (Watch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.watchFn != nil {
		return nil, fmt.Errorf("line %q already watched", m.watchLine)
	}
	m.watchFn = fn
	m.watchLine = line
	return &mockWatch{m: m}, nil
}

// FireEdge invokes the registered edge callback synchronously, as if the
// device had toggled the watched line. It is a no-op after Cancel.
func (m *Mock) FireEdge() {
	m.mu.Lock()
	fn := m.watchFn
	m.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Watched reports whether an edge callback is currently registered.
func (m *Mock) Watched() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.watchFn != nil
}

func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *Mock) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Level returns the recorded level of a line (false if never set).
func (m *Mock) Level(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.levels[name]
}

type mockWatch struct {
	m *Mock
}

func (w *mockWatch) Cancel() error {
	w.m.mu.Lock()
	defer w.m.mu.Unlock()
	w.m.watchFn = nil
	w.m.watchLine = ""
	return nil
}
