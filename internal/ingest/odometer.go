// Package ingest feeds odometer readings from the vehicle telematics units
// into the engine over MQTT.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-maintenance/internal/models"
)

// OdometerTopic is the subscription filter; the last level is the plate.
const OdometerTopic = "fleet/odometer/+"

// Sink receives parsed odometer readings. *engine.Engine satisfies it.
type Sink interface {
	UpdateOdometer(ctx context.Context, licensePlate string, km int) error
}

// OdometerSubscriber bridges the MQTT odometer feed into a Sink.
type OdometerSubscriber struct {
	client mqtt.Client
	sink   Sink
	log    *log.Logger
}

// NewOdometerSubscriber connects to the broker and returns a subscriber
// ready to Start.
func NewOdometerSubscriber(brokerURL, clientID string, sink Sink, logger *log.Logger) (*OdometerSubscriber, error) {
	if logger == nil {
		logger = log.StandardLogger()
	}

	opts := mqtt.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", token.Error())
	}

	return &OdometerSubscriber{client: client, sink: sink, log: logger}, nil
}

// Start subscribes to the odometer topic.
func (s *OdometerSubscriber) Start() error {
	token := s.client.Subscribe(OdometerTopic, 1, func(_ mqtt.Client, msg mqtt.Message) {
		s.handle(msg.Topic(), msg.Payload())
	})
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt subscribe: %w", token.Error())
	}
	s.log.WithField("topic", OdometerTopic).Info("Subscribed to odometer feed")
	return nil
}

// Stop disconnects from the broker.
func (s *OdometerSubscriber) Stop() {
	s.client.Disconnect(250)
}

func (s *OdometerSubscriber) handle(topic string, payload []byte) {
	plate, reading, err := parseReading(topic, payload)
	if err != nil {
		s.log.WithError(err).WithField("topic", topic).Warn("Dropping malformed odometer message")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.sink.UpdateOdometer(ctx, plate, reading.Kilometers); err != nil {
		s.log.WithError(err).WithField("vehicle", plate).Warn("Failed to apply odometer reading")
		return
	}
	s.log.WithFields(log.Fields{"vehicle": plate, "km": reading.Kilometers}).Debug("Applied odometer reading")
}

// parseReading extracts the plate from the topic and decodes the payload.
// A payload plate, when present, must match the topic's.
func parseReading(topic string, payload []byte) (string, models.OdometerReading, error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[0] != "fleet" || parts[1] != "odometer" || parts[2] == "" {
		return "", models.OdometerReading{}, fmt.Errorf("unexpected topic %q", topic)
	}
	plate := parts[2]

	var reading models.OdometerReading
	if err := json.Unmarshal(payload, &reading); err != nil {
		return "", models.OdometerReading{}, fmt.Errorf("decode payload: %w", err)
	}
	if reading.VehicleID != "" && reading.VehicleID != plate {
		return "", models.OdometerReading{}, fmt.Errorf("payload vehicle %q does not match topic %q", reading.VehicleID, plate)
	}
	if reading.Kilometers < 0 {
		return "", models.OdometerReading{}, fmt.Errorf("negative odometer %d", reading.Kilometers)
	}
	return plate, reading, nil
}
