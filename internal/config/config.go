package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/V45692/RaspberrypiPowerPole/internal/ads1256"
)

// Config holds all application configuration values.
type Config struct {
	// SPI bus
	SPIDevice  string
	SPISpeedHz int

	// GPIO lines (periph pin names, e.g. "GPIO17")
	DRDYPin  string
	ResetPin string

	// ADC
	GainCode   byte // PGA code 0-6 (gain 1..64)
	DataRate   int  // samples per second, mapped to the DRATE register
	StatusByte byte // STATUS register value written during reset
	Channels   []ads1256.ChannelPair

	// Capture
	CaptureSeconds float64
	OutputDir      string
	Vref           float64
	DRDYMaxPolls   int

	// MQTT status publishing (optional, disabled when broker is empty)
	MQTTBroker      string
	MQTTClientID    string
	MQTTStatusTopic string

	// USB export
	USBExport bool
}

// Package-level unexported variables for the config singleton. External
// code must use InitGlobal() to set and Get() to read.
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Load reads the configuration file and returns a Config struct.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	cfg := defaults()
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse KEY=VALUE
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if err := cfg.setValue(key, value); err != nil {
			return nil, fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		SPISpeedHz:      2_000_000,
		DRDYPin:         "GPIO17",
		ResetPin:        "GPIO18",
		GainCode:        ads1256.Gain1,
		DataRate:        1000,
		StatusByte:      ads1256.StatusACAL,
		CaptureSeconds:  5.0,
		OutputDir:       ".",
		Vref:            2.5,
		DRDYMaxPolls:    1_000_000,
		MQTTStatusTopic: "powerpole/capture/status",
		USBExport:       true,
	}
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	switch key {
	// SPI bus
	case "SPI_DEVICE":
		c.SPIDevice = value
	case "SPI_SPEED_HZ":
		hz, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid SPI_SPEED_HZ %q: %w", value, err)
		}
		if hz <= 0 {
			return fmt.Errorf("SPI_SPEED_HZ must be positive, got %d", hz)
		}
		c.SPISpeedHz = hz

	// GPIO lines
	case "DRDY_PIN":
		c.DRDYPin = value
	case "RESET_PIN":
		c.ResetPin = value

	// ADC
	case "ADC_GAIN":
		code, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid ADC_GAIN %q: %w", value, err)
		}
		if code < 0 || code > 6 {
			return fmt.Errorf("ADC_GAIN must be 0-6 (gain 1,2,4,...,64), got %d", code)
		}
		c.GainCode = byte(code)
	case "ADC_DATA_RATE":
		sps, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid ADC_DATA_RATE %q: %w", value, err)
		}
		if _, ok := ads1256.DataRateCode(sps); !ok {
			return fmt.Errorf("ADC_DATA_RATE %d SPS is not a supported device rate", sps)
		}
		c.DataRate = sps
	case "ADC_STATUS":
		v, err := strconv.ParseUint(value, 0, 8)
		if err != nil {
			return fmt.Errorf("invalid ADC_STATUS %q: %w", value, err)
		}
		c.StatusByte = byte(v)
	case "CHANNELS":
		set, err := ads1256.ParseChannelSet(value)
		if err != nil {
			return fmt.Errorf("invalid CHANNELS %q: %w", value, err)
		}
		c.Channels = set

	// Capture
	case "CAPTURE_SECONDS":
		secs, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid CAPTURE_SECONDS %q: %w", value, err)
		}
		if secs <= 0 {
			return fmt.Errorf("CAPTURE_SECONDS must be positive, got %g", secs)
		}
		c.CaptureSeconds = secs
	case "OUTPUT_DIR":
		c.OutputDir = value
	case "VREF":
		vref, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid VREF %q: %w", value, err)
		}
		if vref <= 0 {
			return fmt.Errorf("VREF must be positive, got %g", vref)
		}
		c.Vref = vref
	case "DRDY_MAX_POLLS":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid DRDY_MAX_POLLS %q: %w", value, err)
		}
		if n <= 0 {
			return fmt.Errorf("DRDY_MAX_POLLS must be positive, got %d", n)
		}
		c.DRDYMaxPolls = n

	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID":
		c.MQTTClientID = value
	case "MQTT_STATUS_TOPIC":
		c.MQTTStatusTopic = value

	// USB export
	case "USB_EXPORT":
		enabled, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid USB_EXPORT %q: %w", value, err)
		}
		c.USBExport = enabled

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return nil
}

// validate checks that all required fields are set.
func (c *Config) validate() error {
	if c.SPIDevice == "" {
		return fmt.Errorf("SPI_DEVICE is required")
	}
	if c.DRDYPin == "" {
		return fmt.Errorf("DRDY_PIN is required")
	}
	if c.ResetPin == "" {
		return fmt.Errorf("RESET_PIN is required")
	}
	if len(c.Channels) == 0 {
		return fmt.Errorf("CHANNELS is required")
	}
	if c.MQTTBroker != "" && c.MQTTClientID == "" {
		return fmt.Errorf("MQTT_CLIENT_ID is required when MQTT_BROKER is set")
	}
	return nil
}

// InitGlobal initializes the global configuration from file. Uses
// sync.Once so this only runs once, even if called multiple times.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance. InitGlobal must be
// called first, or this will return nil.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
