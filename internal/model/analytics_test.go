package model_test

import (
	"testing"
	"time"

	"github.com/unclebandit/voicereach-engine/internal/model"
)

func TestAnalyticsCacheKey(t *testing.T) {
	t.Parallel()
	r := &model.DateRange{
		StartDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
	}
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"type only", model.AnalyticsCacheKey(model.AnalyticsDashboard, nil, "", ""), "dashboard"},
		{"full", model.AnalyticsCacheKey(model.AnalyticsConversationMetrics, r, "c1", "a1"),
			"conversation_metrics|2024-01-01T00:00:00Z|2024-01-02T00:00:00Z|campaign:c1|agent:a1"},
		{"agent only", model.AnalyticsCacheKey(model.AnalyticsAgentPerformance, nil, "", "a9"), "agent_performance|agent:a9"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Fatalf("%s: key = %q, want %q", tt.name, tt.got, tt.want)
		}
	}
}

func TestCacheEntryFreshness(t *testing.T) {
	t.Parallel()
	ts := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	e := model.AnalyticsCacheEntry{Timestamp: ts, TTL: 5 * time.Minute}

	if !e.Fresh(ts.Add(5 * time.Minute)) {
		t.Fatal("entry at exactly ttl must be fresh")
	}
	if e.Fresh(ts.Add(5*time.Minute + time.Millisecond)) {
		t.Fatal("entry past ttl must be stale")
	}
}

func TestPercentRounding(t *testing.T) {
	t.Parallel()
	tests := []struct {
		part, total int
		want        float64
	}{
		{0, 0, 0},
		{1, 3, 33.33},
		{2, 3, 66.67},
		{3, 3, 100},
	}
	for _, tt := range tests {
		if got := model.Percent(tt.part, tt.total); got != tt.want {
			t.Fatalf("Percent(%d, %d) = %v, want %v", tt.part, tt.total, got, tt.want)
		}
	}
}

func TestRecurringWindow(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)
	tests := map[model.RecurringType]time.Duration{
		model.RecurringHourly:  time.Hour,
		model.RecurringDaily:   24 * time.Hour,
		model.RecurringWeekly:  7 * 24 * time.Hour,
		model.RecurringMonthly: 30 * 24 * time.Hour,
	}
	for typ, span := range tests {
		w := typ.Window(now)
		if !w.EndDate.Equal(now) || w.EndDate.Sub(w.StartDate) != span {
			t.Fatalf("%s window = %+v", typ, w)
		}
	}
}
