// Package hal abstracts the board-level hardware the capture core
// depends on: one chip-select-bracketed SPI transfer primitive plus a
// handful of named GPIO lines. The core never touches periph directly,
// so everything above this package runs against the mock in tests.
package hal

// Edge selects which transition of a line triggers a Watch callback.
type Edge int

const (
	RisingEdge Edge = iota
	FallingEdge
)

// Watch is a registered edge callback. Cancel deregisters it; after
// Cancel returns the callback is never invoked again.
type Watch interface {
	Cancel() error
}

// HAL is the hardware contract consumed by the ADS1256 driver.
//
// Transfer is full duplex: the returned slice has the same length as tx.
// The implementation brackets the whole transfer with chip-select
// low→high, so one Transfer call is one atomic device command.
type HAL interface {
	Transfer(tx []byte) ([]byte, error)
	SetLine(name string, high bool) error
	ReadLine(name string) (bool, error)
	Watch(line string, edge Edge, fn func()) (Watch, error)
	Close() error
}

// Well-known line names used by the ADS1256 wiring.
const (
	LineReset     = "reset"
	LineDataReady = "drdy"
)
