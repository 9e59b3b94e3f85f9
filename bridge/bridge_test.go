package bridge

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sunon4/CGM-test-rig-ICL-Bioeng/errors"
	"github.com/sunon4/CGM-test-rig-ICL-Bioeng/metric"
	"github.com/sunon4/CGM-test-rig-ICL-Bioeng/pump"
	"github.com/sunon4/CGM-test-rig-ICL-Bioeng/serial"
	"github.com/sunon4/CGM-test-rig-ICL-Bioeng/testutil"
)

type fixture struct {
	bridge   *Bridge
	bus      *testutil.MockBus
	port     *testutil.FakePort
	store    *testutil.MemoryStateStore
	registry *metric.MetricsRegistry
}

func newFixture(t *testing.T, responder testutil.Responder, timeout time.Duration) *fixture {
	t.Helper()

	port := testutil.NewFakePort(responder)
	ch, err := serial.New(context.Background(), port, serial.WithSettleDelay(0))
	require.NoError(t, err)
	t.Cleanup(func() { _ = ch.Close() })

	f := &fixture{
		bus:      testutil.NewMockBus(),
		port:     port,
		store:    testutil.NewMemoryStateStore(),
		registry: metric.NewMetricsRegistry(),
	}

	cfg := DefaultConfig()
	cfg.ExchangeTimeout = timeout
	f.bridge, err = New(cfg, f.bus, ch, WithMetrics(f.registry), WithStateStore(f.store))
	require.NoError(t, err)

	require.NoError(t, f.bridge.Start(context.Background()))
	t.Cleanup(func() { _ = f.bridge.Stop(time.Second) })
	return f
}

func (f *fixture) send(t *testing.T, topic, payload string) {
	t.Helper()
	require.NoError(t, f.bus.Publish(context.Background(), topic, []byte(payload)))
}

func (f *fixture) waitProcessed(t *testing.T, n int64) {
	t.Helper()
	testutil.Eventually(t, 2*time.Second, func() bool {
		return f.bridge.Stats().Processed >= n
	}, "%d commands processed", n)
}

func (f *fixture) commands(pumpID, outcome string) float64 {
	return promtest.ToFloat64(f.bridge.metrics.commands.WithLabelValues(pumpID, outcome))
}

func TestBridge_CommandAcknowledgedPublishesStatus(t *testing.T) {
	f := newFixture(t, testutil.OKResponder(0), time.Second)

	f.send(t, "pump/1/command", `{"rpm":150,"direction":true}`)
	testutil.WaitForMessageCount(t, f.bus, "pump/+/status", 1, 2*time.Second)

	frames := f.port.Frames()
	require.Len(t, frames, 1)
	assert.JSONEq(t, `{"pump":1,"rpm":150,"direction":true}`, string(frames[0]))

	status := f.bus.MessagesOn("pump/1/status")
	require.Len(t, status, 1)
	assert.JSONEq(t, `{"rpm":150,"direction":true}`, string(status[0]))

	assert.Equal(t, StateAcknowledged, f.bridge.LastResult(1))
	assert.Equal(t, StateIdle, f.bridge.DeviceState(1))
	assert.Equal(t, float64(1), f.commands("1", "ok"))

	testutil.Eventually(t, time.Second, func() bool { return f.store.Saves() == 1 }, "state saved")
	state, err := f.store.Load(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 150, state.RPM)
	assert.True(t, state.Direction)
}

func TestBridge_UnknownDeviceNeverReachesSerial(t *testing.T) {
	f := newFixture(t, testutil.OKResponder(0), time.Second)

	f.send(t, "pump/3/command", `{"rpm":10}`)
	f.waitProcessed(t, 1)

	assert.Equal(t, 0, f.port.FrameCount())
	testutil.AssertNoMessages(t, f.bus, "pump/+/status")
	assert.Equal(t, float64(1), f.commands("3", "unknown_device"))
}

func TestBridge_UnparseableTopicDropped(t *testing.T) {
	f := newFixture(t, testutil.OKResponder(0), time.Second)

	for _, topic := range []string{"pump/x/command", "pump/-1/command", "pump/1.5/command"} {
		err := f.bridge.Handle(context.Background(), topic, []byte(`{"rpm":1}`))
		assert.ErrorIs(t, err, errors.ErrDecode, topic)
	}
	assert.Equal(t, 0, f.port.FrameCount())
	assert.Equal(t, int64(0), f.bridge.Stats().Submitted)
}

func TestBridge_InvalidPayloadRejected(t *testing.T) {
	f := newFixture(t, testutil.OKResponder(0), time.Second)

	f.send(t, "pump/1/command", `{"rpm":500}`)
	f.send(t, "pump/2/command", `{"rpm":"fast"}`)
	f.send(t, "pump/2/command", `not json`)
	f.waitProcessed(t, 3)

	assert.Equal(t, 0, f.port.FrameCount())
	testutil.AssertNoMessages(t, f.bus, "pump/+/status")
	assert.Equal(t, float64(1), f.commands("1", "invalid"))
	assert.Equal(t, float64(2), f.commands("2", "invalid"))
}

func TestBridge_TimeoutPublishesNothing(t *testing.T) {
	f := newFixture(t, testutil.SilentResponder(), 50*time.Millisecond)

	err := f.bridge.Handle(context.Background(), "pump/1/command", []byte(`{"enable":true}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrExchangeTimeout)

	testutil.AssertNoMessages(t, f.bus, "pump/+/status")
	assert.Equal(t, StateFailed, f.bridge.LastResult(1))
	assert.Equal(t, float64(1), f.commands("1", "timeout"))
	assert.True(t, f.bridge.Health().IsHealthy(), "a timeout is not a transport failure")
}

func TestBridge_MalformedReplyPublishesNothing(t *testing.T) {
	f := newFixture(t, testutil.StaticResponder("not json", 0), time.Second)

	err := f.bridge.Handle(context.Background(), "pump/2/command", []byte(`{"rpm":10}`))
	assert.ErrorIs(t, err, errors.ErrDecode)
	testutil.AssertNoMessages(t, f.bus, "pump/+/status")
	assert.Equal(t, float64(1), f.commands("2", "decode_error"))
}

func TestBridge_RejectedStatusPublishesNothing(t *testing.T) {
	f := newFixture(t, testutil.StaticResponder(`{"status":"error","reason":"stall"}`, 0), time.Second)

	err := f.bridge.Handle(context.Background(), "pump/1/command", []byte(`{"rpm":10}`))
	assert.ErrorIs(t, err, errors.ErrDeviceRejected)
	testutil.AssertNoMessages(t, f.bus, "pump/+/status")
	assert.Equal(t, 0, f.store.Saves())
	assert.Equal(t, float64(1), f.commands("1", "rejected"))
}

func TestBridge_TransportFailureReportsUnhealthy(t *testing.T) {
	f := newFixture(t, testutil.OKResponder(0), time.Second)
	f.port.SetWriteError(stderrors.New("unplugged"))

	err := f.bridge.Handle(context.Background(), "pump/1/command", []byte(`{"rpm":10}`))
	assert.ErrorIs(t, err, errors.ErrTransport)

	h := f.bridge.Health()
	assert.True(t, h.IsUnhealthy())
	assert.Equal(t, float64(1), f.commands("1", "transport_error"))
}

func TestBridge_StatusPublishFailureIsNotRetried(t *testing.T) {
	f := newFixture(t, testutil.OKResponder(0), time.Second)
	f.bus.SetPublishError(errors.ErrTransport)

	err := f.bridge.Handle(context.Background(), "pump/1/command", []byte(`{"rpm":10}`))
	require.NoError(t, err)

	assert.Equal(t, 1, f.port.FrameCount())
	assert.Equal(t, float64(1), promtest.ToFloat64(f.bridge.metrics.publishFailures))
}

func TestBridge_EmptyCommandPublishesEmptyObject(t *testing.T) {
	f := newFixture(t, testutil.OKResponder(0), time.Second)

	require.NoError(t, f.bridge.Handle(context.Background(), "pump/2/command", nil))

	frames := f.port.Frames()
	require.Len(t, frames, 1)
	assert.JSONEq(t, `{"pump":2}`, string(frames[0]))
	status := f.bus.MessagesOn("pump/2/status")
	require.Len(t, status, 1)
	assert.JSONEq(t, `{}`, string(status[0]))
}

func TestBridge_StateMergesPartialCommands(t *testing.T) {
	f := newFixture(t, testutil.OKResponder(0), time.Second)
	ctx := context.Background()

	require.NoError(t, f.bridge.Handle(ctx, "pump/1/command", []byte(`{"rpm":80,"microstep":2}`)))
	require.NoError(t, f.bridge.Handle(ctx, "pump/1/command", []byte(`{"enable":true}`)))

	state, err := f.store.Load(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 80, state.RPM)
	assert.Equal(t, 2, state.Microstep)
	assert.True(t, state.Enable)
	assert.False(t, state.UpdatedAt.IsZero())
}

func TestBridge_StateKeptWhenLoadFails(t *testing.T) {
	f := newFixture(t, testutil.OKResponder(0), time.Second)
	ctx := context.Background()

	require.NoError(t, f.bridge.Handle(ctx, "pump/1/command", []byte(`{"enable":true,"rpm":120,"microstep":3}`)))

	f.store.SetLoadError(errors.WrapTransient(errors.ErrStorageUnavailable, "StateStore", "Load", "get pump 1"))
	require.NoError(t, f.bridge.Handle(ctx, "pump/1/command", []byte(`{"direction":true}`)),
		"a state store failure does not fail the command")
	assert.Len(t, f.bus.MessagesOn("pump/1/status"), 2)
	assert.Equal(t, 1, f.store.Saves())
	assert.Equal(t, float64(1), promtest.ToFloat64(f.bridge.metrics.saveFailures))

	f.store.SetLoadError(nil)
	state, err := f.store.Load(ctx, 1)
	require.NoError(t, err)
	assert.True(t, state.Enable)
	assert.Equal(t, 120, state.RPM)
	assert.Equal(t, 3, state.Microstep)
	assert.False(t, state.Direction)
}

func TestBridge_ConcurrentCommandsNeverInterleave(t *testing.T) {
	f := newFixture(t, testutil.OKResponder(time.Millisecond), time.Second)

	const perDevice = 20
	var wg sync.WaitGroup
	for _, id := range []int{1, 2} {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for i := 0; i < perDevice; i++ {
				payload := fmt.Sprintf(`{"rpm":%d}`, i)
				assert.NoError(t, f.bus.Publish(context.Background(), pump.CommandTopic(id), []byte(payload)))
			}
		}(id)
	}
	wg.Wait()

	testutil.WaitForMessageCount(t, f.bus, "pump/+/status", 2*perDevice, 5*time.Second)
	assert.Equal(t, 0, f.port.Overlaps())

	// per device order is preserved
	next := map[int]int{1: 0, 2: 0}
	for _, raw := range f.port.Frames() {
		cmd, err := pump.DecodeFrame(raw)
		require.NoError(t, err)
		require.NotNil(t, cmd.RPM)
		assert.Equal(t, next[cmd.PumpID], *cmd.RPM, "pump %d out of order", cmd.PumpID)
		next[cmd.PumpID]++
	}
	assert.Equal(t, perDevice, next[1])
	assert.Equal(t, perDevice, next[2])
}

func TestBridge_StopUnsubscribes(t *testing.T) {
	f := newFixture(t, testutil.OKResponder(0), time.Second)
	assert.Equal(t, 1, f.bus.Subscriptions())

	require.NoError(t, f.bridge.Stop(time.Second))
	assert.Equal(t, 0, f.bus.Subscriptions())
	assert.True(t, f.bridge.Health().IsUnhealthy())

	err := f.bridge.Start(context.Background())
	assert.Error(t, err, "a stopped bridge cannot be restarted")
}

type exchangerFunc func(pump.Frame, time.Duration) (pump.Ack, error)

func (f exchangerFunc) Exchange(frame pump.Frame, timeout time.Duration) (pump.Ack, error) {
	return f(frame, timeout)
}

type notifyingExchanger struct {
	onCall func(written func())
}

func (e notifyingExchanger) Exchange(frame pump.Frame, timeout time.Duration) (pump.Ack, error) {
	return e.ExchangeNotify(frame, timeout, func() {})
}

func (e notifyingExchanger) ExchangeNotify(_ pump.Frame, _ time.Duration, written func()) (pump.Ack, error) {
	e.onCall(written)
	return pump.Ack{Status: pump.StatusOK}, nil
}

func TestBridge_DeviceStateFollowsWrite(t *testing.T) {
	var b *Bridge
	var seen []DeviceState
	ex := notifyingExchanger{onCall: func(written func()) {
		seen = append(seen, b.DeviceState(1))
		written()
		seen = append(seen, b.DeviceState(1))
	}}

	var err error
	b, err = New(DefaultConfig(), testutil.NewMockBus(), ex)
	require.NoError(t, err)

	require.NoError(t, b.Handle(context.Background(), "pump/1/command", []byte(`{"rpm":5}`)))
	assert.Equal(t, []DeviceState{StateSending, StateAwaitingAck}, seen)
	assert.Equal(t, StateIdle, b.DeviceState(1))
	assert.Equal(t, StateAcknowledged, b.LastResult(1))
}

func TestNew_RequiresCollaborators(t *testing.T) {
	ok := exchangerFunc(func(pump.Frame, time.Duration) (pump.Ack, error) {
		return pump.Ack{Status: pump.StatusOK}, nil
	})
	_, err := New(DefaultConfig(), nil, ok)
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)

	_, err = New(DefaultConfig(), testutil.NewMockBus(), nil)
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
}

func TestDeviceStateString(t *testing.T) {
	assert.Equal(t, "awaiting_ack", StateAwaitingAck.String())
	assert.Equal(t, "unknown", DeviceState(99).String())
}

func TestBridge_ExchangePanicDoesNotStopWorker(t *testing.T) {
	bus := testutil.NewMockBus()
	calls := 0
	ex := exchangerFunc(func(frame pump.Frame, _ time.Duration) (pump.Ack, error) {
		calls++
		if calls == 1 {
			panic("driver bug")
		}
		return pump.Ack{Status: pump.StatusOK}, nil
	})

	b, err := New(DefaultConfig(), bus, ex)
	require.NoError(t, err)
	require.NoError(t, b.Start(context.Background()))
	defer b.Stop(time.Second)

	require.NoError(t, bus.Publish(context.Background(), "pump/1/command", []byte(`{"rpm":1}`)))
	require.NoError(t, bus.Publish(context.Background(), "pump/1/command", []byte(`{"rpm":2}`)))

	testutil.WaitForMessageCount(t, bus, "pump/1/status", 1, 2*time.Second)
	assert.Equal(t, int64(1), b.Stats().Panics)
}
