package stageagent

import (
	"fmt"

	"github.com/aefi-io/aefi/internal/stageagent/bus"
	"github.com/aefi-io/aefi/internal/stageagent/hal"
	"github.com/aefi-io/aefi/internal/stageagent/motion"
	"github.com/aefi-io/aefi/internal/stageagent/server"
	"github.com/aefi-io/aefi/pkg/mqtt"
	mqtttopic "github.com/aefi-io/aefi/pkg/mqtt/topic"
	"github.com/aefi-io/aefi/pkg/options"
)

type Config struct {
	MotionOptions *options.MotionOptions
	ScanOptions   *options.ScanOptions
	SimOptions    *options.SimOptions
	HttpOptions   *options.HttpOptions
	MqttOptions   *options.MqttOptions
	S3Options     *options.S3Options
}

func (cfg *Config) NewAgent() (*Agent, error) {
	axis := cfg.MotionOptions.AxisID

	var lock *hal.DeviceLock
	if cfg.MotionOptions.DeviceLock != "" {
		l, err := hal.LockDevice(cfg.MotionOptions.DeviceLock)
		if err != nil {
			return nil, err
		}
		lock = l
	}

	stage := hal.NewSimStage(hal.SimConfig{
		Speed:        cfg.SimOptions.Speed,
		HomeDuration: cfg.SimOptions.HomeDuration,
	})
	adc := hal.NewSimADC(stage, hal.ADCConfig{
		Channels: cfg.SimOptions.Channels,
		Latency:  cfg.SimOptions.SampleLatency,
		Noise:    cfg.SimOptions.Noise,
	})

	events := bus.NewBroadcaster()
	sched := motion.New(stage, adc, events,
		motion.WithPollInterval(cfg.MotionOptions.PollInterval),
		motion.WithCommandTimeout(cfg.MotionOptions.CommandTimeout),
		motion.WithSettleDelay(cfg.MotionOptions.SettleDelay),
		motion.WithScanDefaults(cfg.ScanOptions.StabilizationDelay, cfg.ScanOptions.Averaging),
		motion.WithHistory(cfg.ScanOptions.History),
		motion.WithMaxPoints(cfg.ScanOptions.MaxPoints),
	)

	a := &Agent{
		axisID: axis,
		lock:   lock,
		events: events,
		sched:  sched,
	}

	if cfg.MqttOptions.Enabled {
		client, topics, err := cfg.initMqttClientAndTopicBuilder(axis)
		if err != nil {
			a.release()
			return nil, fmt.Errorf("failed to init mqtt client: %w", err)
		}
		a.bridge = bus.NewMQTTBridge(client, topics, axis, sched, cfg.MqttOptions.TelemetryInterval)
		events.Subscribe("mqtt", a.bridge.Handle)
	}

	// A typed nil would defeat the server's nil check, hence the interface.
	var linker server.ArchiveLinker
	if cfg.S3Options.Enabled {
		store, err := bus.NewMinIOStore(cfg.S3Options)
		if err != nil {
			a.release()
			return nil, fmt.Errorf("failed to init object store: %w", err)
		}
		archiver := bus.NewS3Archiver(store, sched, axis)
		events.Subscribe("archive", archiver.Handle)
		a.store = store
		linker = archiver
	}

	a.http = server.NewHTTPServer(cfg.HttpOptions, sched, linker)
	return a, nil
}

func (cfg *Config) initMqttClientAndTopicBuilder(axis string) (mqtt.Client, *mqtttopic.Builder, error) {
	topicBuilder := mqtttopic.NewBuilder(cfg.MqttOptions.TopicRoot)

	mqttConfig := cfg.MqttOptions.ToClientConfig()
	if mqttConfig.ClientID == "" {
		mqttConfig.ClientID = fmt.Sprintf("aefi-agent-%s", axis)
	}

	// No timestamp in the Will; subscribers use the broker's delivery time.
	mqttConfig.WillTopic, mqttConfig.WillPayload = bus.OfflineWill(topicBuilder, axis)
	mqttConfig.WillQoS = 1
	mqttConfig.WillRetain = true

	mqttClient, err := mqtt.NewClient(mqttConfig)
	if err != nil {
		return nil, nil, err
	}

	return mqttClient, topicBuilder, nil
}
