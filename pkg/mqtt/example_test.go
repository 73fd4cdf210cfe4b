package mqtt_test

import (
	"context"
	"fmt"
	"time"

	"github.com/aefi-io/aefi/pkg/log"
	"github.com/aefi-io/aefi/pkg/mqtt"
	"github.com/aefi-io/aefi/pkg/mqtt/topic"
)

// ExampleClient shows how a stage agent connects, listens for its own scan
// events and publishes telemetry.
func ExampleClient() {
	topics := topic.NewBuilder("aefi/v1")

	cfg := &mqtt.ClientConfig{
		BrokerURL:          "tcp://localhost:1883",
		ClientID:           "aefi-stage-agent-stage-0",
		KeepAlive:          60,
		ConnectTimeout:     5 * time.Second,
		InsecureSkipVerify: true,
		WillTopic:          topics.Build("online", "stage-0"),
		WillPayload:        []byte(`{"online":false}`),
		WillQoS:            1,
		WillRetain:         true,
	}

	client, err := mqtt.NewClient(cfg)
	if err != nil {
		log.Error(err, "Failed to create MQTT client")
		return
	}

	// Start returns immediately; the connection is established in the background.
	ctx := context.Background()
	if err := client.Start(ctx); err != nil {
		log.Error(err, "Failed to start MQTT client")
		return
	}

	// Handlers run on their own goroutine. Subscriptions survive reconnects.
	filter := topics.Wildcard("events/scan")
	if err := client.Subscribe(ctx, filter, 1, func(ctx context.Context, t string, payload []byte) {
		fmt.Printf("event on %s: %s\n", t, payload)
	}); err != nil {
		log.Error(err, "Failed to subscribe", "topic", filter)
	}

	if err := client.AwaitConnection(ctx); err != nil {
		log.Error(err, "Connection timed out")
		return
	}

	position := topics.Build("telemetry/position", "stage-0")
	if err := client.Publish(ctx, position, 0, false, []byte(`{"x":1.5,"y":2}`)); err != nil {
		log.Error(err, "Failed to publish", "topic", position)
	}

	client.Disconnect(ctx)
}
