//go:build integration
// +build integration

package fanout

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startNATS(ctx context.Context, t *testing.T) string {
	t.Helper()

	req := testcontainers.ContainerRequest{
		Image:        "nats:latest",
		ExposedPorts: []string{"4222/tcp"},
		WaitingFor:   wait.ForListeningPort("4222/tcp"),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "4222")
	require.NoError(t, err)

	return fmt.Sprintf("nats://%s:%s", host, port.Port())
}

func TestIntegration_NATSRelayMirrorsFrames(t *testing.T) {
	ctx := context.Background()
	url := startNATS(ctx, t)

	consumer, err := nats.Connect(url)
	require.NoError(t, err)
	defer consumer.Close()
	inbox, err := consumer.SubscribeSync("sensorstream.>")
	require.NoError(t, err)
	require.NoError(t, consumer.Flush())

	bridge := newTestBridge(t)
	relay, err := NewNATSPublisher(NATSDeps{
		Bridge: bridge,
		URL:    url,
		Logger: discardLogger(),
	})
	require.NoError(t, err)
	require.NoError(t, relay.Initialize())
	require.NoError(t, relay.Start(ctx))
	defer relay.Stop(5 * time.Second)

	payload := []byte(`{"sensorId":"oven-1","value":21.5,"timestamp":1700000000000,"quality":100}`)
	bridge.PublishEvent("metric:oven-1", payload)

	msg, err := inbox.NextMsg(5 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "sensorstream.metric.oven-1", msg.Subject)
	assert.JSONEq(t, string(payload), string(msg.Data))

	bridge.PublishEvent("mqtt/connection/state", []byte(`{"from":"connected","to":"reconnecting"}`))
	msg, err = inbox.NextMsg(5 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "sensorstream.mqtt.connection.state", msg.Subject)

	assert.True(t, relay.Health().Healthy)
}

func TestIntegration_NATSRelayStopFlushesAndDisconnects(t *testing.T) {
	ctx := context.Background()
	url := startNATS(ctx, t)

	consumer, err := nats.Connect(url)
	require.NoError(t, err)
	defer consumer.Close()
	inbox, err := consumer.SubscribeSync("sensorstream.>")
	require.NoError(t, err)
	require.NoError(t, consumer.Flush())

	bridge := newTestBridge(t)
	relay, err := NewNATSPublisher(NATSDeps{
		Bridge: bridge,
		URL:    url,
		Logger: discardLogger(),
	})
	require.NoError(t, err)
	require.NoError(t, relay.Initialize())
	require.NoError(t, relay.Start(ctx))

	for i := 0; i < 5; i++ {
		bridge.PublishEvent("event:alerts", []byte(fmt.Sprintf(`{"seq":%d}`, i)))
	}
	require.NoError(t, relay.Stop(5*time.Second))

	// Frames queued before Stop still reach the server
	received := 0
	for {
		if _, err := inbox.NextMsg(time.Second); err != nil {
			break
		}
		received++
	}
	assert.Equal(t, 5, received)
	assert.False(t, relay.Health().Healthy)
}
