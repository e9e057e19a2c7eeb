package main

import (
	"flag"
	"log"

	"github.com/V45692/RaspberrypiPowerPole/internal/app"
	"github.com/V45692/RaspberrypiPowerPole/internal/config"
)

func main() {
	configPath := flag.String("config", "./powerpole_config.txt", "path to configuration file")
	flag.Parse()

	log.Println("starting ADS1256 capture (polling, full-cycle records)")

	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := app.RunCapture(); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
