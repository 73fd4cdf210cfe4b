package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"k8s.io/utils/clock"

	"github.com/aefi-io/aefi/internal/pkg/metrics"
	"github.com/aefi-io/aefi/internal/pkg/mqtt/paths"
	"github.com/aefi-io/aefi/internal/stageagent/core"
	"github.com/aefi-io/aefi/internal/stageagent/motion"
	"github.com/aefi-io/aefi/pkg/log"
	"github.com/aefi-io/aefi/pkg/mqtt"
	mqtttopic "github.com/aefi-io/aefi/pkg/mqtt/topic"
)

const publishTimeout = 5 * time.Second

// StatusSource is what the telemetry loop reads.
type StatusSource interface {
	Snapshot() motion.Snapshot
}

// MQTTBridge publishes events and telemetry of one axis.
type MQTTBridge struct {
	mc       mqtt.Client
	topics   *mqtttopic.Builder
	axisID   string
	status   StatusSource
	interval time.Duration
	clock    clock.WithTicker
	logger   log.Logger

	// Telemetry loop only.
	lastState *statePayload
}

type onlinePayload struct {
	Online    bool      `json:"online"`
	Timestamp time.Time `json:"timestamp,omitzero"`
}

type statePayload struct {
	State      core.WorkerState      `json:"state"`
	Gate       motion.BatchGateState `json:"gate"`
	ActiveScan string                `json:"active_scan,omitempty"`
}

// BridgeOption customizes an MQTTBridge.
type BridgeOption func(*MQTTBridge)

// WithBridgeClock replaces the wall clock driving telemetry, for tests.
func WithBridgeClock(c clock.WithTicker) BridgeOption {
	return func(b *MQTTBridge) { b.clock = c }
}

func NewMQTTBridge(client mqtt.Client, builder *mqtttopic.Builder, axisID string, status StatusSource, interval time.Duration, opts ...BridgeOption) *MQTTBridge {
	b := &MQTTBridge{
		mc:       client,
		topics:   builder,
		axisID:   axisID,
		status:   status,
		interval: interval,
		clock:    clock.RealClock{},
		logger:   log.WithName("bus.mqtt").WithValues("axis", axisID),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// OfflineWill is the Will message the client registers on connect.
func OfflineWill(builder *mqtttopic.Builder, axisID string) (topic string, payload []byte) {
	payload, _ = json.Marshal(onlinePayload{Online: false})
	return builder.Build(paths.Online, axisID), payload
}

// Handle publishes e. It is meant to be a Broadcaster subscription.
func (b *MQTTBridge) Handle(e core.Event) {
	segment, ok := segmentFor(e.Type)
	if !ok {
		b.logger.Warn("Unmapped event type", "type", e.Type)
		return
	}

	if !b.mc.IsConnected() {
		metrics.EventsDropped.WithLabelValues("mqtt").Inc()
		b.logger.Debug("Broker unreachable, event dropped", "type", e.Type, "seq", e.Seq)
		return
	}

	payload, err := json.Marshal(e)
	if err != nil {
		b.logger.Error(err, "Failed to encode event", "type", e.Type)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := b.mc.Publish(ctx, b.topics.Build(segment, b.axisID), 1, false, payload); err != nil {
		metrics.EventsDropped.WithLabelValues("mqtt").Inc()
		b.logger.Error(err, "Failed to publish event", "type", e.Type, "seq", e.Seq)
	}
}

// Start connects, announces the agent and publishes telemetry until ctx is
// done. A broker that never answers leaves the agent running without events.
func (b *MQTTBridge) Start(ctx context.Context) error {
	if err := b.mc.Start(ctx); err != nil {
		return fmt.Errorf("start mqtt client: %w", err)
	}
	defer b.stop()

	if err := b.mc.AwaitConnection(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	b.publishJSON(ctx, paths.Online, onlinePayload{Online: true, Timestamp: b.clock.Now()}, 1, true)

	ticker := b.clock.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		b.publishTelemetry(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
		}
	}
}

func (b *MQTTBridge) publishTelemetry(ctx context.Context) {
	snap := b.status.Snapshot()
	b.publishJSON(ctx, paths.Position, snap.Position, 0, false)

	st := statePayload{State: snap.State, Gate: snap.Gate, ActiveScan: snap.ActiveScan}
	if b.lastState == nil || *b.lastState != st {
		if b.publishJSON(ctx, paths.State, st, 1, true) {
			b.lastState = &st
		}
	}
}

func (b *MQTTBridge) publishJSON(ctx context.Context, segment string, v any, qos int, retain bool) bool {
	payload, err := json.Marshal(v)
	if err != nil {
		b.logger.Error(err, "Failed to encode payload", "segment", segment)
		return false
	}

	pctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := b.mc.Publish(pctx, b.topics.Build(segment, b.axisID), qos, retain, payload); err != nil {
		if ctx.Err() == nil {
			b.logger.Debug("Telemetry publish failed", "segment", segment, "error", err)
		}
		return false
	}
	return true
}

func (b *MQTTBridge) stop() {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if b.mc.IsConnected() {
		b.publishJSON(ctx, paths.Online, onlinePayload{Online: false, Timestamp: b.clock.Now()}, 1, true)
	}
	b.logger.Info("Disconnecting MQTT client...")
	b.mc.Disconnect(ctx)
}
