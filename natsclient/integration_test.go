package natsclient

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sunon4/CGM-test-rig-ICL-Bioeng/errors"
	"github.com/sunon4/CGM-test-rig-ICL-Bioeng/pump"
)

func kvConfig(name string) jetstream.KeyValueConfig {
	return jetstream.KeyValueConfig{Bucket: name, History: 1}
}

func integrationClient(t *testing.T) *Client {
	t.Helper()
	if os.Getenv("INTEGRATION_TESTS") == "" {
		t.Skip("Skipping integration test. Set INTEGRATION_TESTS=1 to run.")
	}
	return NewTestClient(t)
}

func TestIntegration_PublishHonoursDeadline(t *testing.T) {
	client := integrationClient(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, client.Publish(ctx, pump.CommandTopic(1), []byte(`{"rpm":1}`)))

	expired, cancelExpired := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancelExpired()
	err := client.Publish(expired, pump.CommandTopic(1), []byte(`{"rpm":2}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrTransport)
	assert.True(t, errors.IsTransient(err))
}

func TestIntegration_PublishSubscribeTopics(t *testing.T) {
	client := integrationClient(t)
	ctx := context.Background()

	type delivery struct {
		topic   string
		payload string
	}
	got := make(chan delivery, 4)

	sub, err := client.Subscribe(ctx, pump.CommandPattern, func(_ context.Context, topic string, payload []byte) {
		got <- delivery{topic, string(payload)}
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.NoError(t, client.Publish(ctx, pump.CommandTopic(2), []byte(`{"rpm":10}`)))
	require.NoError(t, client.Publish(ctx, pump.StatusTopic(2), []byte(`{"rpm":10}`)))

	select {
	case d := <-got:
		assert.Equal(t, "pump/2/command", d.topic)
		assert.JSONEq(t, `{"rpm":10}`, d.payload)
	case <-time.After(5 * time.Second):
		t.Fatal("command not delivered")
	}

	select {
	case d := <-got:
		t.Fatalf("status topic leaked into command subscription: %v", d)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestIntegration_HandlerPanicRecovered(t *testing.T) {
	client := integrationClient(t)
	ctx := context.Background()

	calls := make(chan struct{}, 2)
	_, err := client.Subscribe(ctx, "pump/+/status", func(context.Context, string, []byte) {
		calls <- struct{}{}
		panic("boom")
	})
	require.NoError(t, err)

	require.NoError(t, client.Publish(ctx, pump.StatusTopic(1), []byte(`{}`)))
	require.NoError(t, client.Publish(ctx, pump.StatusTopic(1), []byte(`{}`)))

	for i := 0; i < 2; i++ {
		select {
		case <-calls:
		case <-time.After(5 * time.Second):
			t.Fatal("subscription stopped after handler panic")
		}
	}
	assert.True(t, client.IsHealthy())
}

func TestIntegration_StateStore(t *testing.T) {
	client := integrationClient(t)
	ctx := context.Background()

	store, err := OpenStateStore(ctx, client, "")
	require.NoError(t, err)

	_, err = store.Load(ctx, 1)
	assert.ErrorIs(t, err, errors.ErrKeyNotFound)

	at := time.Now().UTC().Truncate(time.Millisecond)
	state := pump.State{}.Apply(pump.Command{PumpID: 1, RPM: pump.Int(120), Enable: pump.Bool(true)}, at)
	require.NoError(t, store.Save(ctx, state))

	loaded, err := store.Load(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 120, loaded.RPM)
	assert.True(t, loaded.Enable)
	assert.True(t, at.Equal(loaded.UpdatedAt))

	again, err := OpenStateStore(ctx, client, DefaultStateBucket)
	require.NoError(t, err)
	loaded, err = again.Load(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 120, loaded.RPM)
}
