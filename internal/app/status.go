package app

import (
	"encoding/json"
	"log"
	"time"

	"github.com/V45692/RaspberrypiPowerPole/internal/config"
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// statusEvent is the MQTT payload describing a capture session's
// lifecycle. Retained so late subscribers see the last state.
type statusEvent struct {
	Event    string  `json:"event"` // "start", "complete", "partial", "error"
	File     string  `json:"file,omitempty"`
	Records  int     `json:"records"`
	Duration float64 `json:"duration_s"`
	Time     string  `json:"time"`
	Error    string  `json:"error,omitempty"`
}

// statusPublisher publishes capture status to MQTT. A nil publisher is
// valid and does nothing, so capture works with no broker configured.
type statusPublisher struct {
	client mqtt.Client
	topic  string
}

// newStatusPublisher connects to the configured broker, or returns nil
// when MQTT is not configured. A broker that is configured but
// unreachable is an error: the operator asked for telemetry.
func newStatusPublisher(cfg *config.Config) (*statusPublisher, error) {
	if cfg.MQTTBroker == "" {
		return nil, nil
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(cfg.MQTTClientID)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	log.Printf("connected to MQTT broker %s", cfg.MQTTBroker)
	return &statusPublisher{client: client, topic: cfg.MQTTStatusTopic}, nil
}

func (p *statusPublisher) publish(ev statusEvent) {
	if p == nil {
		return
	}
	ev.Time = time.Now().Format(time.RFC3339)
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Printf("status marshal error: %v", err)
		return
	}
	if token := p.client.Publish(p.topic, 0, true, payload); token.Wait() && token.Error() != nil {
		log.Printf("MQTT publish error (status): %v", token.Error())
	}
}

func (p *statusPublisher) close() {
	if p == nil {
		return
	}
	p.client.Disconnect(250)
}
