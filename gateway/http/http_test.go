package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sunon4/CGM-test-rig-ICL-Bioeng/errors"
	"github.com/sunon4/CGM-test-rig-ICL-Bioeng/gateway"
	"github.com/sunon4/CGM-test-rig-ICL-Bioeng/health"
	"github.com/sunon4/CGM-test-rig-ICL-Bioeng/metric"
	"github.com/sunon4/CGM-test-rig-ICL-Bioeng/profile"
	"github.com/sunon4/CGM-test-rig-ICL-Bioeng/pump"
	"github.com/sunon4/CGM-test-rig-ICL-Bioeng/testutil"
)

type fixture struct {
	bus     *testutil.MockBus
	gw      *Gateway
	handler http.Handler
}

func newFixture(t *testing.T, cfg gateway.Config, opts ...Option) *fixture {
	t.Helper()
	bus := testutil.NewMockBus()
	gw, err := NewGateway(cfg, bus, pump.DefaultDevices(), opts...)
	require.NoError(t, err)
	return &fixture{bus: bus, gw: gw, handler: gw.Handler()}
}

func (f *fixture) do(method, path, body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp
}

func TestRoot(t *testing.T) {
	f := newFixture(t, gateway.DefaultConfig())

	rec := f.do(http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, Response{Status: "ok", Message: "Pump Control API is running"}, decode(t, rec))
}

func TestCommand_PublishesNormalizedPayload(t *testing.T) {
	f := newFixture(t, gateway.DefaultConfig())

	rec := f.do(http.MethodPost, "/pump/1/command", `{"pump_id":9,"enable":true,"rpm":120,"colour":"red"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, Response{Status: "ok", Message: "Command sent"}, decode(t, rec))

	msgs := f.bus.MessagesOn("pump/1/command")
	require.Len(t, msgs, 1)
	assert.JSONEq(t, `{"enable":true,"rpm":120}`, string(msgs[0]))
	assert.Equal(t, 0, f.bus.MessageCount("pump/2/command"))
}

func TestCommand_EmptyBody(t *testing.T) {
	f := newFixture(t, gateway.DefaultConfig())

	rec := f.do(http.MethodPost, "/pump/2/command", "")
	require.Equal(t, http.StatusOK, rec.Code)
	msgs := f.bus.MessagesOn("pump/2/command")
	require.Len(t, msgs, 1)
	assert.JSONEq(t, `{}`, string(msgs[0]))
}

func TestCommand_InvalidPumpID(t *testing.T) {
	f := newFixture(t, gateway.DefaultConfig())

	for _, id := range []string{"3", "0", "-1", "abc", "1.5"} {
		t.Run(id, func(t *testing.T) {
			rec := f.do(http.MethodPost, "/pump/"+id+"/command", `{"enable":true}`)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, Response{Status: "error", Message: "Invalid pump ID"}, decode(t, rec))
		})
	}
	testutil.AssertNoMessages(t, f.bus, "pump/+/command")
}

func TestCommand_InvalidBody(t *testing.T) {
	f := newFixture(t, gateway.DefaultConfig())

	tests := []struct {
		name    string
		body    string
		message string
	}{
		{"not json", `enable=true`, "invalid command"},
		{"wrong type", `{"rpm":"fast"}`, "invalid command"},
		{"rpm out of range", `{"rpm":900}`, "rpm 900 outside"},
		{"microstep out of range", `{"microstep":7}`, "microstep 7 outside"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(http.MethodPost, "/pump/1/command", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			resp := decode(t, rec)
			assert.Equal(t, "error", resp.Status)
			assert.Contains(t, resp.Message, tt.message)
		})
	}
	testutil.AssertNoMessages(t, f.bus, "pump/+/command")
}

func TestCommand_BodyTooLarge(t *testing.T) {
	cfg := gateway.DefaultConfig()
	cfg.MaxRequestSize = 16
	f := newFixture(t, cfg)

	rec := f.do(http.MethodPost, "/pump/1/command", `{"enable":true,"direction":false}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	testutil.AssertNoMessages(t, f.bus, "pump/+/command")
}

func TestCommand_RateLimitedPerPump(t *testing.T) {
	cfg := gateway.DefaultConfig()
	cfg.RateLimit = 0.001
	cfg.RateBurst = 1
	f := newFixture(t, cfg)

	assert.Equal(t, http.StatusOK, f.do(http.MethodPost, "/pump/1/command", `{}`).Code)
	rec := f.do(http.MethodPost, "/pump/1/command", `{}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, Response{Status: "error", Message: "rate limit exceeded"}, decode(t, rec))
	assert.Equal(t, http.StatusOK, f.do(http.MethodPost, "/pump/2/command", `{}`).Code)

	assert.Equal(t, 1, f.bus.MessageCount("pump/1/command"))
	assert.Equal(t, 1, f.bus.MessageCount("pump/2/command"))
}

func TestCommand_InvalidRequestsDoNotSpendTokens(t *testing.T) {
	cfg := gateway.DefaultConfig()
	cfg.RateLimit = 0.001
	cfg.RateBurst = 1
	f := newFixture(t, cfg)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/pump/1/command", `{"rpm":-5}`).Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodPost, "/pump/1/command", `{"rpm":5}`).Code)
}

func TestCommand_PublishFailure(t *testing.T) {
	f := newFixture(t, gateway.DefaultConfig())
	f.bus.SetPublishError(errors.WrapTransient(errors.ErrNoConnection, "test", "Publish", "publish"))

	rec := f.do(http.MethodPost, "/pump/1/command", `{"enable":false}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "error", decode(t, rec).Status)
	assert.NotContains(t, rec.Body.String(), "nats")
}

func TestCommand_WrongMethod(t *testing.T) {
	f := newFixture(t, gateway.DefaultConfig())

	rec := f.do(http.MethodGet, "/pump/1/command", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRequestID(t *testing.T) {
	f := newFixture(t, gateway.DefaultConfig())

	rec := f.do(http.MethodGet, "/", "", "X-Request-ID", "existing-request-id-12345")
	assert.Equal(t, "existing-request-id-12345", rec.Header().Get("X-Request-ID"))

	first := f.do(http.MethodGet, "/", "").Header().Get("X-Request-ID")
	second := f.do(http.MethodGet, "/", "").Header().Get("X-Request-ID")
	_, err := uuid.Parse(first)
	assert.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestCORS(t *testing.T) {
	t.Run("preflight", func(t *testing.T) {
		f := newFixture(t, gateway.DefaultConfig())
		rec := f.do(http.MethodOptions, "/pump/1/command", "",
			"Origin", "http://dashboard.local", "Access-Control-Request-Method", "POST")
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "http://dashboard.local", rec.Header().Get("Access-Control-Allow-Origin"))
		testutil.AssertNoMessages(t, f.bus, "pump/+/command")
	})

	t.Run("origin not listed", func(t *testing.T) {
		cfg := gateway.DefaultConfig()
		cfg.CORSOrigins = []string{"https://lab.example.org"}
		f := newFixture(t, cfg)
		rec := f.do(http.MethodGet, "/", "", "Origin", "https://evil.example.com")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("disabled", func(t *testing.T) {
		cfg := gateway.DefaultConfig()
		cfg.EnableCORS = false
		f := newFixture(t, cfg)
		rec := f.do(http.MethodGet, "/", "", "Origin", "http://dashboard.local")
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestState(t *testing.T) {
	t.Run("no store", func(t *testing.T) {
		f := newFixture(t, gateway.DefaultConfig())
		assert.Equal(t, http.StatusServiceUnavailable, f.do(http.MethodGet, "/pump/1/state", "").Code)
	})

	store := testutil.NewMemoryStateStore()
	f := newFixture(t, gateway.DefaultConfig(), WithStateReader(store))

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/pump/1/state", "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/pump/7/state", "").Code)

	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.Save(context.Background(), pump.State{PumpID: 1, Enable: true, RPM: 80, UpdatedAt: at}))

	rec := f.do(http.MethodGet, "/pump/1/state", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var state pump.State
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.Equal(t, 80, state.RPM)
	assert.True(t, state.Enable)
	assert.True(t, at.Equal(state.UpdatedAt))
}

func TestProfiles(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		f := newFixture(t, gateway.DefaultConfig())
		assert.Equal(t, http.StatusServiceUnavailable, f.do(http.MethodGet, "/profiles", "").Code)
	})

	bus := testutil.NewMockBus()
	runner := profile.NewRunner(bus, pump.DefaultDevices())
	gw, err := NewGateway(gateway.DefaultConfig(), bus, pump.DefaultDevices(), WithProfiles(runner))
	require.NoError(t, err)
	f := &fixture{bus: bus, gw: gw, handler: gw.Handler()}

	rec := f.do(http.MethodGet, "/profiles", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var infos []profile.Info
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &infos))
	require.Len(t, infos, 1)
	assert.Equal(t, profile.AlternatingSquare, infos[0].Name)

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodPost, "/profiles/sine/start", "").Code)

	rec = f.do(http.MethodPost, "/profiles/alternating-square/start", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = f.do(http.MethodGet, "/profiles/active", "")
	assert.JSONEq(t, `{"active":true,"name":"alternating-square"}`, rec.Body.String())

	// first phase is published asynchronously
	testutil.WaitForMessageCount(t, bus, "pump/+/command", 2, time.Second)
	bus.Reset()
	rec = f.do(http.MethodPost, "/profiles/stop", "")
	require.Equal(t, http.StatusOK, rec.Code)
	for _, id := range []int{1, 2} {
		msgs := bus.MessagesOn(pump.CommandTopic(id))
		require.Len(t, msgs, 1)
		assert.JSONEq(t, `{"enable":false}`, string(msgs[0]))
	}

	rec = f.do(http.MethodGet, "/profiles/active", "")
	assert.JSONEq(t, `{"active":false}`, rec.Body.String())
}

func TestHealthAndRealtimeMounts(t *testing.T) {
	monitor := health.NewMonitor("pumpapi")
	monitor.Register("bus", health.CheckerFunc(func() health.Status {
		return health.NewUnhealthy("bus", "disconnected")
	}))
	realtime := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	f := newFixture(t, gateway.DefaultConfig(), WithHealth(monitor.Handler()), WithRealtime(realtime))

	assert.Equal(t, http.StatusServiceUnavailable, f.do(http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, http.StatusTeapot, f.do(http.MethodGet, "/ws", "").Code)
}

func TestRequestMetrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	f := newFixture(t, gateway.DefaultConfig(), WithMetrics(registry))

	f.do(http.MethodPost, "/pump/1/command", `{}`)
	f.do(http.MethodPost, "/pump/3/command", `{}`)
	f.do(http.MethodPost, "/pump/3/command", `{}`)

	assert.Equal(t, float64(1), promtest.ToFloat64(f.gw.metrics.requests.WithLabelValues("command", "200")))
	assert.Equal(t, float64(2), promtest.ToFloat64(f.gw.metrics.requests.WithLabelValues("command", "400")))
}

func TestNewGateway_Validation(t *testing.T) {
	_, err := NewGateway(gateway.DefaultConfig(), nil, pump.DefaultDevices())
	assert.True(t, errors.IsInvalid(err))

	cfg := gateway.DefaultConfig()
	cfg.MaxRequestSize = -1
	_, err = NewGateway(cfg, testutil.NewMockBus(), pump.DefaultDevices())
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
}

func TestMapErrorToHTTPStatus(t *testing.T) {
	g := &Gateway{}

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid", errors.WrapInvalid(errors.ErrValidation, "test", "test", "check"), http.StatusBadRequest},
		{"unknown device", errors.WrapInvalid(errors.ErrUnknownDevice, "test", "test", "check"), http.StatusBadRequest},
		{"missing key", errors.WrapInvalid(errors.ErrKeyNotFound, "test", "test", "get"), http.StatusNotFound},
		{"transient", errors.WrapTransient(errors.ErrNoConnection, "test", "test", "publish"), http.StatusServiceUnavailable},
		{"rate limited", errors.WrapTransient(errors.ErrRateLimited, "test", "test", "take token"), http.StatusTooManyRequests},
		{"fatal", errors.WrapFatal(errors.ErrTransport, "test", "test", "write"), http.StatusInternalServerError},
		{"nil", nil, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, g.mapErrorToHTTPStatus(tt.err))
		})
	}
}
