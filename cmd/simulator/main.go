package main

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-maintenance/internal/models"
)

// Simulated odometer publisher. Each vehicle advances a few kilometers per
// tick and publishes the reading the way the telematics units do.

type simVehicle struct {
	plate    string
	odometer int
	kmPerDay int
}

func envInt(name string, def int) int {
	if v := os.Getenv(name); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			return parsed
		}
	}
	return def
}

func newFleet(size int) []*simVehicle {
	fleet := make([]*simVehicle, size)
	for i := range fleet {
		fleet[i] = &simVehicle{
			plate:    fmt.Sprintf("SIM-%03d", i+1),
			odometer: 50000 + rand.Intn(200000),
			kmPerDay: 200 + rand.Intn(600),
		}
	}
	return fleet
}

func main() {
	logger := log.StandardLogger()
	logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	broker := os.Getenv("MQTT_BROKER")
	if broker == "" {
		broker = "tcp://localhost:1883"
	}
	fleetSize := envInt("FLEET_SIZE", 5)
	tick := time.Duration(envInt("SIM_TICK_SECONDS", 10)) * time.Second

	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID("fleet-odometer-simulator").
		SetAutoReconnect(true)
	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		logger.WithError(token.Error()).Fatal("Failed to connect to MQTT broker")
	}
	logger.WithFields(log.Fields{"broker": broker, "fleet": fleetSize}).Info("Simulator connected")

	fleet := newFleet(fleetSize)
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	for {
		select {
		case <-ticker.C:
			for _, v := range fleet {
				// Scale daily distance down to the tick interval.
				step := float64(v.kmPerDay) * tick.Seconds() / 86400
				v.odometer += int(step) + rand.Intn(3)

				reading := models.OdometerReading{
					VehicleID:  v.plate,
					Kilometers: v.odometer,
					RecordedAt: time.Now().UTC(),
				}
				payload, err := json.Marshal(reading)
				if err != nil {
					logger.WithError(err).Error("Failed to marshal reading")
					continue
				}

				topic := "fleet/odometer/" + v.plate
				if token := client.Publish(topic, 1, false, payload); token.Wait() && token.Error() != nil {
					logger.WithError(token.Error()).WithField("vehicle", v.plate).Warn("Publish failed")
					continue
				}
				logger.WithFields(log.Fields{
					"vehicle": v.plate,
					"km":      v.odometer,
				}).Debug("Published odometer reading")
			}
		case <-stop:
			logger.Info("Simulator stopping")
			client.Disconnect(250)
			return
		}
	}
}
