package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/profile-collector/internal/config"
)

func TestAlerter_Evaluate_NoAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{FailureRateThreshold: 0.10})

	snap := &MetricsSnapshot{
		Sources: []SourceHealth{
			{Source: "leetcode", Runs: 3, Done: 3, Accepted: 950, Failed: 50, FailRate: 0.05},
		},
		LookbackHours: 24,
	}

	assert.Empty(t, a.Evaluate(snap))
}

func TestAlerter_Evaluate_FailureRate(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{FailureRateThreshold: 0.10})

	snap := &MetricsSnapshot{
		Sources: []SourceHealth{
			{Source: "github", Runs: 1, Done: 1, Accepted: 12, Failed: 8, FailRate: 0.4},
		},
		LookbackHours: 24,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertFailureRate, alerts[0].Type)
	assert.Equal(t, "github", alerts[0].Source)
	assert.Equal(t, "high", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "40.0%")
}

func TestAlerter_Evaluate_SmallSampleIgnored(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{FailureRateThreshold: 0.10})

	snap := &MetricsSnapshot{
		Sources: []SourceHealth{
			{Source: "stackoverflow", Done: 1, Accepted: 2, Failed: 3, FailRate: 0.6},
		},
	}
	assert.Empty(t, a.Evaluate(snap))
}

func TestAlerter_Evaluate_PartialAndStalled(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{FailureRateThreshold: 0.5})

	snap := &MetricsSnapshot{
		Sources: []SourceHealth{
			{Source: "leetcode", Runs: 4, Done: 3, Partial: 1, Stalled: 1},
		},
		LookbackHours: 12,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 2)
	assert.Equal(t, AlertPartialRuns, alerts[0].Type)
	assert.Equal(t, "medium", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "1 of 3 leetcode run(s)")
	assert.Equal(t, AlertStalledRuns, alerts[1].Type)
}

func TestAlerter_SendAlerts(t *testing.T) {
	var received atomic.Int32
	var got Alert
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: srv.URL})
	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertStalledRuns, Source: "github", Severity: "high", Message: "stalled", Timestamp: time.Now()},
	})

	assert.Equal(t, 1, sent)
	assert.Equal(t, int32(1), received.Load())
	assert.Equal(t, "github", got.Source)
}

func TestAlerter_SendAlerts_WebhookError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: srv.URL})
	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertPartialRuns}})
	assert.Equal(t, 0, sent)
}

func TestAlerter_SendAlerts_NoWebhook(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{})
	assert.Equal(t, 0, a.SendAlerts(context.Background(), []Alert{{Type: AlertPartialRuns}}))
}
