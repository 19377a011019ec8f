package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/kychandar/evwire/mocks"
)

func createTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func sessionCount(n int) func() int {
	return func() int { return n }
}

func serveHealth(t *testing.T, h http.HandlerFunc, path string) (int, HealthStatus) {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	w := httptest.NewRecorder()
	h(w, req)

	var response HealthStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	return w.Code, response
}

func TestNewHealthChecker(t *testing.T) {
	hc := NewHealthChecker(createTestLogger(), "0.1", sessionCount(0))

	assert.NotNil(t, hc)
	assert.True(t, hc.IsLive())
	assert.False(t, hc.IsReady()) // Should be false initially
}

func TestHealthChecker_SetReady(t *testing.T) {
	hc := NewHealthChecker(createTestLogger(), "0.1", sessionCount(0))

	hc.SetReady(true)
	assert.True(t, hc.IsReady())

	hc.SetReady(false)
	assert.False(t, hc.IsReady())
}

func TestHealthChecker_SetLive(t *testing.T) {
	hc := NewHealthChecker(createTestLogger(), "0.1", sessionCount(0))

	hc.SetLive(false)
	assert.False(t, hc.IsLive())

	hc.SetLive(true)
	assert.True(t, hc.IsLive())
}

func TestReadinessHandler_NotReady(t *testing.T) {
	hc := NewHealthChecker(createTestLogger(), "0.1", sessionCount(0))

	code, response := serveHealth(t, hc.ReadinessHandler(), "/health/ready")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "not_ready", response.Status)
}

func TestReadinessHandler_Ready(t *testing.T) {
	hc := NewHealthChecker(createTestLogger(), "0.1", sessionCount(3))
	hc.SetReady(true)

	code, response := serveHealth(t, hc.ReadinessHandler(), "/health/ready")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ready", response.Status)
	assert.Equal(t, "0.1", response.Version)
	assert.Equal(t, 3, response.Sessions)
	assert.GreaterOrEqual(t, response.Uptime, int64(0))
	assert.Empty(t, response.Checks)
}

func TestReadinessHandler_ChecksPass(t *testing.T) {
	log := &mocks.MockChannelLog{}
	log.On("ListChannels", mock.Anything).Return([]string{"orders"}, nil)

	hc := NewHealthChecker(createTestLogger(), "0.1", sessionCount(0))
	hc.AddCheck("channel_log", func(ctx context.Context) error {
		_, err := log.ListChannels(ctx)
		return err
	})
	hc.AddCheck("binder_store", func(context.Context) error { return nil })
	hc.SetReady(true)

	code, response := serveHealth(t, hc.ReadinessHandler(), "/health/ready")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, map[string]string{"binder_store": "ok", "channel_log": "ok"}, response.Checks)
	log.AssertExpectations(t)
}

func TestReadinessHandler_CheckFailureDegrades(t *testing.T) {
	log := &mocks.MockChannelLog{}
	log.On("ListChannels", mock.Anything).Return(nil, errors.New("nats: no servers available"))

	hc := NewHealthChecker(createTestLogger(), "0.1", sessionCount(0))
	hc.AddCheck("channel_log", func(ctx context.Context) error {
		_, err := log.ListChannels(ctx)
		return err
	})
	hc.AddCheck("binder_store", func(context.Context) error { return nil })
	hc.SetReady(true)

	code, response := serveHealth(t, hc.ReadinessHandler(), "/health/ready")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "degraded", response.Status)
	assert.Equal(t, "ok", response.Checks["binder_store"])
	assert.Equal(t, "nats: no servers available", response.Checks["channel_log"])
}

func TestReadinessHandler_CheckHasDeadline(t *testing.T) {
	hc := NewHealthChecker(createTestLogger(), "0.1", sessionCount(0))
	hc.AddCheck("slow", func(ctx context.Context) error {
		_, ok := ctx.Deadline()
		if !ok {
			return errors.New("no deadline")
		}
		return nil
	})
	hc.SetReady(true)

	code, _ := serveHealth(t, hc.ReadinessHandler(), "/health/ready")
	assert.Equal(t, http.StatusOK, code)
}

func TestLivenessHandler_NotAlive(t *testing.T) {
	hc := NewHealthChecker(createTestLogger(), "0.1", sessionCount(0))
	hc.SetLive(false)

	code, response := serveHealth(t, hc.LivenessHandler(), "/health/live")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "not_alive", response.Status)
}

func TestLivenessHandler_AliveIgnoresChecks(t *testing.T) {
	hc := NewHealthChecker(createTestLogger(), "0.1", sessionCount(1))
	hc.AddCheck("channel_log", func(context.Context) error { return errors.New("down") })

	code, response := serveHealth(t, hc.LivenessHandler(), "/health/live")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "alive", response.Status)
	assert.Equal(t, 1, response.Sessions)
	assert.Empty(t, response.Checks)
}

func TestHealthChecker_ConcurrentAccess(t *testing.T) {
	hc := NewHealthChecker(createTestLogger(), "0.1", sessionCount(0))

	done := make(chan bool)
	numGoroutines := 100

	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			defer func() { done <- true }()

			switch id % 3 {
			case 0:
				hc.SetReady(true)
				hc.SetLive(true)
			case 1:
				hc.AddCheck("noop", func(context.Context) error { return nil })
			default:
				_ = hc.IsReady()
				_ = hc.IsLive()
			}
		}(i)
	}

	for i := 0; i < numGoroutines; i++ {
		<-done
	}

	code, _ := serveHealth(t, hc.ReadinessHandler(), "/health/ready")
	assert.Equal(t, http.StatusOK, code)
}

func TestHealthStatus_JSONMarshaling(t *testing.T) {
	status := HealthStatus{
		Status:    "ready",
		Timestamp: time.Now(),
		Version:   "0.1",
		Uptime:    3600,
		Sessions:  2,
	}

	data, err := json.Marshal(status)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"protocol_version":"0.1"`)
	assert.Contains(t, string(data), `"uptime_seconds":3600`)
	assert.Contains(t, string(data), `"sessions":2`)
	assert.NotContains(t, string(data), "checks")
}
