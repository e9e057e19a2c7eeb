package ads1256

// ADS1256 register addresses (datasheet: https://www.ti.com/lit/ds/symlink/ads1256.pdf).
const (
	regStatus = 0x00
	regMux    = 0x01
	regAdcon  = 0x02
	regDrate  = 0x03
)

// Command opcodes.
const (
	cmdWakeup = 0x00
	cmdRdata  = 0x01
	cmdRdatac = 0x03
	cmdSdatac = 0x0F
	cmdWreg   = 0x50 // 0x50 | (reg & 0x0F)
	cmdSync   = 0xFC
	cmdReset  = 0xFE
)

// STATUS register bits.
const (
	// StatusACAL enables self-calibration after register writes.
	StatusACAL = 0x04
	// StatusBufEn enables the analog input buffer.
	StatusBufEn = 0x02
)

// PGA gain codes for the ADCON register.
const (
	Gain1 byte = iota
	Gain2
	Gain4
	Gain8
	Gain16
	Gain32
	Gain64
)

// GainFactor returns the amplification factor for a PGA gain code.
func GainFactor(code byte) int {
	return 1 << code
}

// DataRateCode maps an output data rate in samples per second to its
// DRATE register value. The second return is false for rates the device
// does not support (the 2.5 SPS rate is not addressable this way; no
// capture runs that slow).
func DataRateCode(sps int) (byte, bool) {
	code, ok := drateCodes[sps]
	return code, ok
}

var drateCodes = map[int]byte{
	5:     0x13,
	10:    0x23,
	15:    0x33,
	25:    0x43,
	30:    0x53,
	50:    0x63,
	60:    0x72,
	100:   0x82,
	500:   0x92,
	1000:  0xA1,
	2000:  0xB0,
	3750:  0xC0,
	7500:  0xD0,
	15000: 0xE0,
	30000: 0xF0,
}
