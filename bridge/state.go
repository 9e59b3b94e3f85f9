package bridge

import (
	"strconv"
	"sync"

	"github.com/sunon4/CGM-test-rig-ICL-Bioeng/pump"
)

// DeviceState is where a pump is in its current exchange.
type DeviceState int

const (
	StateIdle DeviceState = iota
	StateSending
	StateAwaitingAck
	StateAcknowledged
	StateFailed
)

func (s DeviceState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateAwaitingAck:
		return "awaiting_ack"
	case StateAcknowledged:
		return "acknowledged"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

type deviceTracker struct {
	mu      sync.RWMutex
	states  map[int]DeviceState
	results map[int]DeviceState
	metrics *bridgeMetrics
}

func newDeviceTracker(devices pump.Devices, metrics *bridgeMetrics) *deviceTracker {
	t := &deviceTracker{
		states:  make(map[int]DeviceState),
		results: make(map[int]DeviceState),
		metrics: metrics,
	}
	for _, id := range devices.IDs() {
		t.states[id] = StateIdle
		metrics.deviceState(pumpLabel(id), StateIdle)
	}
	return t
}

func (t *deviceTracker) set(id int, s DeviceState) {
	t.mu.Lock()
	t.states[id] = s
	if s == StateAcknowledged || s == StateFailed {
		t.results[id] = s
	}
	t.mu.Unlock()
	t.metrics.deviceState(pumpLabel(id), s)
}

func (t *deviceTracker) get(id int) DeviceState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.states[id]
}

func pumpLabel(id int) string {
	return strconv.Itoa(id)
}

func (t *deviceTracker) lastResult(id int) DeviceState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.results[id]
}
