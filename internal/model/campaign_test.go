package model_test

import (
	"testing"
	"time"

	"github.com/unclebandit/voicereach-engine/internal/model"
)

func TestCanTransitionFollowsLifecycle(t *testing.T) {
	t.Parallel()
	all := []model.CampaignStatus{
		model.CampaignDraft, model.CampaignScheduled, model.CampaignRunning,
		model.CampaignPaused, model.CampaignCompleted, model.CampaignCancelled,
	}
	allowed := map[[2]model.CampaignStatus]bool{
		{model.CampaignDraft, model.CampaignScheduled}:     true,
		{model.CampaignScheduled, model.CampaignRunning}:   true,
		{model.CampaignRunning, model.CampaignPaused}:      true,
		{model.CampaignRunning, model.CampaignCompleted}:   true,
		{model.CampaignPaused, model.CampaignRunning}:      true,
		{model.CampaignDraft, model.CampaignCancelled}:     true,
		{model.CampaignScheduled, model.CampaignCancelled}: true,
		{model.CampaignRunning, model.CampaignCancelled}:   true,
		{model.CampaignPaused, model.CampaignCancelled}:    true,
	}
	for _, from := range all {
		for _, to := range all {
			want := allowed[[2]model.CampaignStatus{from, to}]
			if got := model.CanTransition(from, to); got != want {
				t.Fatalf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestTerminalStatuses(t *testing.T) {
	t.Parallel()
	if !model.CampaignCompleted.Terminal() || !model.CampaignCancelled.Terminal() {
		t.Fatal("completed and cancelled must be terminal")
	}
	if model.CampaignPaused.Terminal() {
		t.Fatal("paused is not terminal")
	}
}

func TestAllowsCallTimeWindows(t *testing.T) {
	t.Parallel()
	weekdays := model.TimeWindow{DaysOfWeek: []int{1, 2, 3, 4, 5}, StartTime: "09:00", EndTime: "17:00"}
	rules := model.CampaignRules{TimeWindows: []model.TimeWindow{weekdays}}

	// 2024-01-01 is a Monday
	monday := func(h, m int) time.Time { return time.Date(2024, 1, 1, h, m, 0, 0, time.UTC) }

	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"before start", monday(8, 59), false},
		{"at start", monday(9, 0), true},
		{"last hour inclusive", monday(17, 45), true},
		{"after end hour", monday(18, 0), false},
		{"sunday", time.Date(2023, 12, 31, 12, 0, 0, 0, time.UTC), false},
	}
	for _, tt := range tests {
		if got := rules.AllowsCall(tt.at); got != tt.want {
			t.Fatalf("%s: AllowsCall = %v, want %v", tt.name, got, tt.want)
		}
	}

	if !(model.CampaignRules{}).AllowsCall(monday(3, 0)) {
		t.Fatal("no windows configured must allow calls")
	}
}

func TestAllowsCallUsesCampaignTimezone(t *testing.T) {
	t.Parallel()
	rules := model.CampaignRules{
		Timezone:    "America/New_York",
		TimeWindows: []model.TimeWindow{{DaysOfWeek: []int{1}, StartTime: "09:00", EndTime: "10:00"}},
	}
	// 14:30 UTC on Monday 2024-01-01 is 09:30 in New York
	if !rules.AllowsCall(time.Date(2024, 1, 1, 14, 30, 0, 0, time.UTC)) {
		t.Fatal("expected call allowed in local window")
	}
	if rules.AllowsCall(time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC)) {
		t.Fatal("09:30 UTC is 04:30 local")
	}
}

func TestRulesAttemptsDefault(t *testing.T) {
	t.Parallel()
	if got := (model.CampaignRules{}).Attempts(); got != model.DefaultMaxAttempts {
		t.Fatalf("Attempts() = %d", got)
	}
	if got := (model.CampaignRules{MaxAttempts: 5}).Attempts(); got != 5 {
		t.Fatalf("Attempts() = %d", got)
	}
}

func TestProgress(t *testing.T) {
	t.Parallel()
	if p := (model.CampaignProgress{}).Percent(); p != 0 {
		t.Fatalf("empty campaign percent = %v", p)
	}
	p := model.CampaignProgress{TotalContacts: 4, ProcessedContacts: 1}
	if p.Percent() != 25 || p.Done() {
		t.Fatalf("unexpected progress %+v", p)
	}
	if !(model.CampaignProgress{TotalContacts: 4, ProcessedContacts: 4}).Done() {
		t.Fatal("expected done")
	}
}
