// Package capture turns driver reads into a timestamped binary log.
//
// A session writes one file: a raw concatenation of fixed-size
// little-endian records with no header or footer. Two record shapes
// exist, one per sampling engine:
//
//	full-cycle: <float32 elapsed_s><int32 ch0>...<int32 chN-1>
//	per-sample: <float32 elapsed_s><int32 channel_index><int32 raw>
//
// A reader needs nothing beyond the record size and field types; the
// conversion constants (Vref, gain) live in an optional CSV sidecar.
package capture

import (
	"encoding/binary"
	"fmt"
	"math"
)

// SampleRecordSize is the byte size of one per-sample record.
const SampleRecordSize = 12

// CycleRecordSize returns the byte size of one full-cycle record for a
// channel set of n pairs.
func CycleRecordSize(n int) int {
	return 4 + 4*n
}

// SampleRecord is one per-sample mode record: a single channel's raw
// value at one instant.
type SampleRecord struct {
	ElapsedS float32
	Channel  int32
	Raw      int32
}

// CycleRecord is one full-cycle mode record: every channel's raw value
// for a single timestamp.
type CycleRecord struct {
	ElapsedS float32
	Raw      []int32
}

func appendSampleRecord(buf []byte, r SampleRecord) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(r.ElapsedS))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(r.Channel))
	return binary.LittleEndian.AppendUint32(buf, uint32(r.Raw))
}

func appendCycleRecord(buf []byte, r CycleRecord) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(r.ElapsedS))
	for _, raw := range r.Raw {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(raw))
	}
	return buf
}

// DecodeSampleRecord decodes one per-sample record from b.
func DecodeSampleRecord(b []byte) (SampleRecord, error) {
	if len(b) < SampleRecordSize {
		return SampleRecord{}, fmt.Errorf("short sample record: %d bytes", len(b))
	}
	return SampleRecord{
		ElapsedS: math.Float32frombits(binary.LittleEndian.Uint32(b[0:4])),
		Channel:  int32(binary.LittleEndian.Uint32(b[4:8])),
		Raw:      int32(binary.LittleEndian.Uint32(b[8:12])),
	}, nil
}

// DecodeCycleRecord decodes one full-cycle record of n channels from b.
func DecodeCycleRecord(b []byte, n int) (CycleRecord, error) {
	if len(b) < CycleRecordSize(n) {
		return CycleRecord{}, fmt.Errorf("short cycle record: %d bytes for %d channels", len(b), n)
	}
	r := CycleRecord{
		ElapsedS: math.Float32frombits(binary.LittleEndian.Uint32(b[0:4])),
		Raw:      make([]int32, n),
	}
	for i := 0; i < n; i++ {
		r.Raw[i] = int32(binary.LittleEndian.Uint32(b[4+4*i : 8+4*i]))
	}
	return r, nil
}

// RawToVolts converts a raw ADC code to volts given the reference
// voltage and the PGA amplification factor. Full scale is ±Vref/gain
// over the signed 24-bit range.
func RawToVolts(raw int32, vref float64, gain int) float64 {
	return float64(raw) * vref / (float64(gain) * 8388607.0)
}
