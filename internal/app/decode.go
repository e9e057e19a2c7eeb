package app

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"

	"github.com/V45692/RaspberrypiPowerPole/internal/capture"
)

// DecodeOptions describe one binary log to convert. Channels is the
// channel-set length the log was captured with; PerSample selects the
// 12-byte record shape instead of the full-cycle one.
type DecodeOptions struct {
	Input     string
	Output    string
	Channels  int
	PerSample bool
	Vref      float64
	Gain      int
}

// RunDecode converts a binary capture log to CSV, one row per record,
// with a raw and a volts column per channel value.
func RunDecode(opts DecodeOptions) error {
	in, err := os.Open(opts.Input)
	if err != nil {
		return fmt.Errorf("open %s: %w", opts.Input, err)
	}
	defer in.Close()

	out, err := os.Create(opts.Output)
	if err != nil {
		return fmt.Errorf("create %s: %w", opts.Output, err)
	}
	defer out.Close()

	w := csv.NewWriter(out)
	defer w.Flush()

	if err := w.Write(decodeHeader(opts)); err != nil {
		return err
	}

	recordSize := capture.CycleRecordSize(opts.Channels)
	if opts.PerSample {
		recordSize = capture.SampleRecordSize
	}
	r := capture.NewReader(in, recordSize)

	count := 0
	for {
		b, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			// A truncated tail record can only come from a capture that
			// died mid-write; decode everything before it.
			log.Printf("warning: ignoring truncated trailing record in %s", opts.Input)
			break
		}
		if err != nil {
			return fmt.Errorf("read record %d: %w", count, err)
		}

		row, err := decodeRow(b, opts)
		if err != nil {
			return fmt.Errorf("decode record %d: %w", count, err)
		}
		if err := w.Write(row); err != nil {
			return err
		}
		count++
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	log.Printf("decoded %d records from %s to %s", count, opts.Input, opts.Output)
	return nil
}

func decodeHeader(opts DecodeOptions) []string {
	if opts.PerSample {
		return []string{"time_s", "channel_index", "raw", "volts"}
	}
	header := []string{"time_s"}
	for i := 0; i < opts.Channels; i++ {
		header = append(header,
			fmt.Sprintf("sensor%d_raw", i+1),
			fmt.Sprintf("sensor%d_V", i+1),
		)
	}
	return header
}

func decodeRow(b []byte, opts DecodeOptions) ([]string, error) {
	formatTime := func(t float32) string {
		return strconv.FormatFloat(float64(t), 'g', -1, 32)
	}
	formatVolts := func(raw int32) string {
		return strconv.FormatFloat(capture.RawToVolts(raw, opts.Vref, opts.Gain), 'g', -1, 64)
	}

	if opts.PerSample {
		rec, err := capture.DecodeSampleRecord(b)
		if err != nil {
			return nil, err
		}
		return []string{
			formatTime(rec.ElapsedS),
			strconv.Itoa(int(rec.Channel)),
			strconv.Itoa(int(rec.Raw)),
			formatVolts(rec.Raw),
		}, nil
	}

	rec, err := capture.DecodeCycleRecord(b, opts.Channels)
	if err != nil {
		return nil, err
	}
	row := []string{formatTime(rec.ElapsedS)}
	for _, raw := range rec.Raw {
		row = append(row, strconv.Itoa(int(raw)), formatVolts(raw))
	}
	return row, nil
}
