package profile

import (
	"context"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sunon4/CGM-test-rig-ICL-Bioeng/errors"
	"github.com/sunon4/CGM-test-rig-ICL-Bioeng/metric"
	"github.com/sunon4/CGM-test-rig-ICL-Bioeng/pump"
	"github.com/sunon4/CGM-test-rig-ICL-Bioeng/testutil"
)

func fastSquare() Profile {
	p := AlternatingSquareProfile()
	p.Name = "fast-square"
	p.Interval = 20 * time.Millisecond
	return p
}

func TestAlternatingSquareProfile(t *testing.T) {
	p := AlternatingSquareProfile()
	require.NoError(t, p.Validate(pump.DefaultDevices()))
	assert.Equal(t, 5*time.Second, p.Interval)
	require.Len(t, p.Phases, 2)

	a, err := p.Phases[0].Commands[0].Payload()
	require.NoError(t, err)
	assert.JSONEq(t, `{"enable":true,"direction":true,"rpm":100}`, string(a))
	off, err := p.Phases[0].Commands[1].Payload()
	require.NoError(t, err)
	assert.JSONEq(t, `{"enable":false}`, string(off))

	assert.Equal(t, 2, p.Phases[1].Commands[1].PumpID)
	assert.Equal(t, 100, *p.Phases[1].Commands[1].RPM)

	info := p.Info()
	assert.Equal(t, "5s", info.Interval)
	assert.Equal(t, []string{"pump1-on", "pump2-on"}, info.Phases)
}

func TestProfileValidate(t *testing.T) {
	devices := pump.DefaultDevices()

	p := fastSquare()
	p.Interval = 0
	assert.ErrorIs(t, p.Validate(devices), errors.ErrValidation)

	p = fastSquare()
	p.Phases = nil
	assert.ErrorIs(t, p.Validate(devices), errors.ErrValidation)

	p = fastSquare()
	p.Phases[0].Commands = append(p.Phases[0].Commands, pump.Command{PumpID: 3})
	assert.ErrorIs(t, p.Validate(devices), errors.ErrUnknownDevice)

	p = fastSquare()
	p.Phases[1].Commands[1].RPM = pump.Int(500)
	assert.ErrorIs(t, p.Validate(devices), errors.ErrValidation)
}

func TestRunner_BuiltinRegistered(t *testing.T) {
	r := NewRunner(testutil.NewMockBus(), pump.DefaultDevices())
	profiles := r.Profiles()
	require.Len(t, profiles, 1)
	assert.Equal(t, AlternatingSquare, profiles[0].Name)

	_, active := r.Active()
	assert.False(t, active)
}

func TestRunner_CyclesPhases(t *testing.T) {
	bus := testutil.NewMockBus()
	registry := metric.NewMetricsRegistry()
	r := NewRunner(bus, pump.DefaultDevices(), WithMetrics(registry))
	require.NoError(t, r.Register(fastSquare()))

	require.NoError(t, r.Start("fast-square"))
	name, active := r.Active()
	assert.True(t, active)
	assert.Equal(t, "fast-square", name)

	// three phases: A, B, A
	testutil.WaitForMessageCount(t, bus, "pump/1/command", 3, 2*time.Second)
	require.NoError(t, r.Stop(context.Background()))

	p1 := bus.MessagesOn("pump/1/command")
	p2 := bus.MessagesOn("pump/2/command")
	assert.JSONEq(t, `{"enable":true,"direction":true,"rpm":100}`, string(p1[0]))
	assert.JSONEq(t, `{"enable":false}`, string(p2[0]))
	assert.JSONEq(t, `{"enable":false}`, string(p1[1]))
	assert.JSONEq(t, `{"enable":true,"direction":true,"rpm":100}`, string(p2[1]))
	assert.JSONEq(t, `{"enable":true,"direction":true,"rpm":100}`, string(p1[2]))

	assert.GreaterOrEqual(t, promtest.ToFloat64(r.metrics.phases.WithLabelValues("fast-square")), float64(2))
	assert.Equal(t, float64(0), promtest.ToFloat64(r.metrics.active.WithLabelValues("fast-square")))
}

func TestRunner_StopDisablesEveryPump(t *testing.T) {
	bus := testutil.NewMockBus()
	r := NewRunner(bus, pump.NewDevices(1, 2))
	require.NoError(t, r.Start(AlternatingSquare))
	testutil.WaitForMessageCount(t, bus, "pump/+/command", 2, time.Second)

	bus.Reset()
	require.NoError(t, r.Stop(context.Background()))

	for _, id := range []int{1, 2} {
		msgs := bus.MessagesOn(pump.CommandTopic(id))
		require.Len(t, msgs, 1, "pump %d", id)
		assert.JSONEq(t, `{"enable":false}`, string(msgs[0]))
	}
	_, active := r.Active()
	assert.False(t, active)

	// nothing is published after Stop returns
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 2, bus.MessageCount("pump/+/command"))
}

func TestRunner_StopWhenIdleStillDisables(t *testing.T) {
	bus := testutil.NewMockBus()
	r := NewRunner(bus, pump.DefaultDevices())

	require.NoError(t, r.Stop(context.Background()))
	assert.Equal(t, 2, bus.MessageCount("pump/+/command"))
}

func TestRunner_StartReplacesActive(t *testing.T) {
	bus := testutil.NewMockBus()
	r := NewRunner(bus, pump.DefaultDevices())
	require.NoError(t, r.Register(fastSquare()))

	require.NoError(t, r.Start(AlternatingSquare))
	require.NoError(t, r.Start("fast-square"))

	name, active := r.Active()
	assert.True(t, active)
	assert.Equal(t, "fast-square", name)
	require.NoError(t, r.Stop(context.Background()))
}

func TestRunner_UnknownProfile(t *testing.T) {
	r := NewRunner(testutil.NewMockBus(), pump.DefaultDevices())

	err := r.Start("sine")
	assert.ErrorIs(t, err, ErrProfileNotFound)
	assert.True(t, errors.IsInvalid(err))
}

func TestRunner_StopReportsPublishFailure(t *testing.T) {
	bus := testutil.NewMockBus()
	bus.SetPublishError(errors.ErrTransport)
	r := NewRunner(bus, pump.DefaultDevices())

	err := r.Stop(context.Background())
	assert.ErrorIs(t, err, errors.ErrTransport)
}
