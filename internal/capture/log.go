package capture

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
)

// Writer appends fixed-size records to a log file. Every record goes to
// the file in a single Write call, so a closed log never ends in a torn
// record regardless of how the session ended.
type Writer struct {
	f       *os.File
	scratch []byte
	records int
}

// Create opens a new log file for writing, truncating any existing file
// of the same name.
func Create(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create log %s: %w", path, err)
	}
	return &Writer{f: f}, nil
}

// WriteSample appends one per-sample record.
func (w *Writer) WriteSample(r SampleRecord) error {
	w.scratch = appendSampleRecord(w.scratch[:0], r)
	return w.flushRecord()
}

// WriteCycle appends one full-cycle record.
func (w *Writer) WriteCycle(r CycleRecord) error {
	w.scratch = appendCycleRecord(w.scratch[:0], r)
	return w.flushRecord()
}

func (w *Writer) flushRecord() error {
	if _, err := w.f.Write(w.scratch); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	w.records++
	return nil
}

// Records returns the number of records written so far.
func (w *Writer) Records() int {
	return w.records
}

// Name returns the path of the underlying file.
func (w *Writer) Name() string {
	return w.f.Name()
}

// Close syncs and closes the log. Safe to call on every exit path.
func (w *Writer) Close() error {
	if err := w.f.Sync(); err != nil {
		w.f.Close()
		return fmt.Errorf("sync log: %w", err)
	}
	return w.f.Close()
}

// Reader decodes a log file record by record.
type Reader struct {
	r    io.Reader
	size int
	buf  []byte
}

// NewReader reads records of recordSize bytes from r.
func NewReader(r io.Reader, recordSize int) *Reader {
	return &Reader{r: r, size: recordSize, buf: make([]byte, recordSize)}
}

// Next returns the raw bytes of the next record, or io.EOF after the
// last complete record. A trailing partial record is reported as
// io.ErrUnexpectedEOF.
func (r *Reader) Next() ([]byte, error) {
	if _, err := io.ReadFull(r.r, r.buf); err != nil {
		return nil, err
	}
	return r.buf, nil
}

// Meta holds the sidecar constants needed to convert raw codes into
// physical units. The sidecar is metadata only; the binary log parses
// without it.
type Meta struct {
	Vref      float64
	Gain      int
	Channels  int
	PerSample bool
}

// WriteMeta writes the CSV sidecar: a schema description per field plus
// the conversion constants, mirroring the capture's record layout.
func WriteMeta(path string, m Meta) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create sidecar %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	rows := [][]string{{"field", "description"}}
	rows = append(rows, []string{"timestamp_s", "float32 seconds since start"})
	if m.PerSample {
		rows = append(rows,
			[]string{"channel_index", "int32 index into the channel set"},
			[]string{"raw", "int32 raw ADC"},
		)
	} else {
		for i := 0; i < m.Channels; i++ {
			rows = append(rows, []string{fmt.Sprintf("sensor%d", i+1), "int32 raw ADC"})
		}
	}
	rows = append(rows,
		[]string{"Vref", strconv.FormatFloat(m.Vref, 'g', -1, 64)},
		[]string{"Gain", strconv.Itoa(m.Gain)},
	)
	if err := w.WriteAll(rows); err != nil {
		return fmt.Errorf("write sidecar: %w", err)
	}
	return nil
}
