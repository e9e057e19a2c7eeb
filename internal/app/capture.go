package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/V45692/RaspberrypiPowerPole/internal/ads1256"
	"github.com/V45692/RaspberrypiPowerPole/internal/capture"
	"github.com/V45692/RaspberrypiPowerPole/internal/config"
	"github.com/V45692/RaspberrypiPowerPole/internal/export"
	"github.com/V45692/RaspberrypiPowerPole/internal/hal"
)

// RunCapture runs one polling-variant capture session: full-cycle
// records, one per pass through the channel set.
func RunCapture() error {
	return runSession(false)
}

// RunFastCapture runs one interrupt-driven capture session: per-sample
// records, one per data-ready edge.
func RunFastCapture() error {
	return runSession(true)
}

// runSession is the shared capture envelope: bring up the hardware,
// reset the device, run the selected engine under a signal-cancelled
// context, then write the sidecar and hand the log to the export
// service. The log file and the bus handle are released on every exit
// path.
func runSession(perSample bool) error {
	cfg := config.Get()

	h, err := hal.NewPeriph(cfg.SPIDevice, cfg.SPISpeedHz, map[string]string{
		hal.LineDataReady: cfg.DRDYPin,
		hal.LineReset:     cfg.ResetPin,
	})
	if err != nil {
		return fmt.Errorf("hardware init: %w", err)
	}
	defer h.Close()

	drate, ok := ads1256.DataRateCode(cfg.DataRate)
	if !ok {
		return fmt.Errorf("unsupported data rate %d SPS", cfg.DataRate)
	}
	drv := ads1256.New(h, ads1256.Config{
		Status:   cfg.StatusByte,
		Gain:     cfg.GainCode,
		DataRate: drate,
	}, ads1256.WithMaxReadyPolls(cfg.DRDYMaxPolls))

	log.Printf("resetting ADS1256 (gain %d, %d SPS, %d channels)",
		ads1256.GainFactor(cfg.GainCode), cfg.DataRate, len(cfg.Channels))
	if err := drv.Reset(); err != nil {
		return fmt.Errorf("device reset: %w", err)
	}

	status, err := newStatusPublisher(cfg)
	if err != nil {
		return fmt.Errorf("MQTT connect: %w", err)
	}
	defer status.close()

	base := "ads1256_" + time.Now().Format("20060102_150405")
	binPath := filepath.Join(cfg.OutputDir, base+".bin")
	metaPath := filepath.Join(cfg.OutputDir, base+"_meta.csv")
	duration := time.Duration(cfg.CaptureSeconds * float64(time.Second))

	w, err := capture.Create(binPath)
	if err != nil {
		return err
	}
	log.Printf("capturing to %s for %s", binPath, duration)
	status.publish(statusEvent{Event: "start", File: binPath, Duration: cfg.CaptureSeconds})

	// SIGINT/SIGTERM mid-session is a clean partial capture, not a
	// failure: stop at the next boundary, close the log, keep the data.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var records int
	var runErr error
	if perSample {
		eng := capture.NewInterruptEngine(drv, h, cfg.Channels, duration)
		records, runErr = eng.Run(ctx, w)
	} else {
		eng := capture.NewEngine(drv, cfg.Channels, duration)
		records, runErr = eng.Run(ctx, w)
	}

	if cerr := w.Close(); cerr != nil {
		if runErr == nil {
			runErr = cerr
		} else {
			log.Printf("log close error: %v", cerr)
		}
	}

	interrupted := errors.Is(runErr, context.Canceled)
	if runErr != nil && !interrupted {
		status.publish(statusEvent{Event: "error", File: binPath, Records: records, Error: runErr.Error()})
		return fmt.Errorf("capture aborted after %d records: %w", records, runErr)
	}
	if interrupted {
		log.Printf("interrupted: partial capture of %d records", records)
	} else {
		log.Printf("capture complete: %d records", records)
	}

	meta := capture.Meta{
		Vref:      cfg.Vref,
		Gain:      ads1256.GainFactor(cfg.GainCode),
		Channels:  len(cfg.Channels),
		PerSample: perSample,
	}
	if err := capture.WriteMeta(metaPath, meta); err != nil {
		log.Printf("sidecar write failed (log is still valid): %v", err)
		metaPath = ""
	}

	event := "complete"
	if interrupted {
		event = "partial"
	}
	status.publish(statusEvent{Event: event, File: binPath, Records: records, Duration: cfg.CaptureSeconds})

	if cfg.USBExport {
		exportLogs(export.NewUDisks(), binPath, metaPath)
	}
	return nil
}

// exportLogs hands the finished files to removable storage. Export
// failures are logged, never returned: the capture on local disk is
// already complete and valid.
func exportLogs(svc export.Service, paths ...string) {
	target, err := svc.FindRemovable()
	if errors.Is(err, export.ErrNoRemovableDrive) {
		log.Printf("no removable USB drive found, keeping files locally")
		return
	}
	if err != nil {
		log.Printf("USB detection failed, keeping files locally: %v", err)
		return
	}

	log.Printf("copying to USB drive %s at %s", target.Device, target.Mount)
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := svc.Copy(p, target.Mount); err != nil {
			log.Printf("copy %s failed, keeping files locally: %v", p, err)
			return
		}
	}

	if err := svc.Eject(target.Device); err != nil {
		log.Printf("eject failed (files were copied): %v", err)
		return
	}
	log.Printf("USB drive safely ejected")
}
