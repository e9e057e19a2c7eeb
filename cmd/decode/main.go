package main

import (
	"flag"
	"log"
	"strings"

	"github.com/V45692/RaspberrypiPowerPole/internal/app"
)

func main() {
	input := flag.String("in", "", "binary capture log to decode")
	output := flag.String("out", "", "CSV output path (default: input with .csv extension)")
	perSample := flag.Bool("per-sample", false, "log was captured by fastcapture (12-byte per-sample records)")
	channels := flag.Int("channels", 3, "channel-set length the log was captured with")
	vref := flag.Float64("vref", 2.5, "reference voltage used during capture")
	gain := flag.Int("gain", 1, "PGA amplification factor used during capture")
	flag.Parse()

	if *input == "" {
		log.Fatal("-in is required")
	}
	if *output == "" {
		*output = strings.TrimSuffix(*input, ".bin") + ".csv"
	}

	err := app.RunDecode(app.DecodeOptions{
		Input:     *input,
		Output:    *output,
		Channels:  *channels,
		PerSample: *perSample,
		Vref:      *vref,
		Gain:      *gain,
	})
	if err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
