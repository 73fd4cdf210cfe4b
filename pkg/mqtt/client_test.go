package mqtt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopicsMatch(t *testing.T) {
	tests := []struct {
		filter, topic string
		want          bool
	}{
		{"aefi/v1/events/scan/stage-0", "aefi/v1/events/scan/stage-0", true},
		{"aefi/v1/events/scan/+", "aefi/v1/events/scan/stage-0", true},
		{"aefi/v1/events/+/stage-0", "aefi/v1/events/motion/stage-0", true},
		{"aefi/v1/events/#", "aefi/v1/events/scan/stage-0", true},
		{"aefi/v1/events/scan/+", "aefi/v1/events/scan", false},
		{"aefi/v1/events/scan/+", "aefi/v1/events/scan/stage-0/extra", false},
		{"aefi/v1/telemetry/position/stage-1", "aefi/v1/telemetry/position/stage-0", false},
	}

	for _, tt := range tests {
		t.Run(tt.filter+"~"+tt.topic, func(t *testing.T) {
			assert.Equal(t, tt.want, topicsMatch(tt.filter, tt.topic))
		})
	}
}

func TestTopicFilterStripsSharedPrefix(t *testing.T) {
	assert.Equal(t, "aefi/v1/events/#", topicFilter("$share/exporters/aefi/v1/events/#"))
	assert.Equal(t, "aefi/v1/events/#", topicFilter("aefi/v1/events/#"))
}

func TestNewClientValidates(t *testing.T) {
	_, err := NewClient(nil)
	require.Error(t, err)

	_, err = NewClient(&ClientConfig{})
	require.Error(t, err)

	_, err = NewClient(&ClientConfig{BrokerURL: "localhost"})
	require.Error(t, err, "a broker url without scheme is not dialable")

	c, err := NewClient(&ClientConfig{BrokerURL: "tcp://localhost:1883"})
	require.NoError(t, err)
	assert.False(t, c.IsConnected())
}

func TestSetDefaultConfig(t *testing.T) {
	cfg := &ClientConfig{BrokerURL: "tcp://localhost:1883"}
	setDefaultConfig(cfg)

	assert.EqualValues(t, 60, cfg.KeepAlive)
	assert.NotZero(t, cfg.ConnectTimeout)
	assert.NotZero(t, cfg.ReconnectInterval)
}
