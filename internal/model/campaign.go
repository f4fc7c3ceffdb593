// internal/model/campaign.go
package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignScheduled CampaignStatus = "scheduled"
	CampaignRunning   CampaignStatus = "running"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCompleted CampaignStatus = "completed"
	CampaignCancelled CampaignStatus = "cancelled"
)

// Terminal reports whether no further transition leaves this status.
func (s CampaignStatus) Terminal() bool {
	return s == CampaignCompleted || s == CampaignCancelled
}

var campaignTransitions = map[CampaignStatus][]CampaignStatus{
	CampaignDraft:     {CampaignScheduled, CampaignCancelled},
	CampaignScheduled: {CampaignRunning, CampaignCancelled},
	CampaignRunning:   {CampaignPaused, CampaignCompleted, CampaignCancelled},
	CampaignPaused:    {CampaignRunning, CampaignCancelled},
}

// CanTransition reports whether from -> to is an edge of the campaign lifecycle.
func CanTransition(from, to CampaignStatus) bool {
	for _, next := range campaignTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type Campaign struct {
	ID        string         `db:"id" json:"id"`
	Name      string         `db:"name" json:"name"`
	Status    CampaignStatus `db:"status" json:"status"`
	Rules     CampaignRules  `db:"rules" json:"rules"`
	FlowID    string         `db:"flow_id" json:"flowId"`
	CreatedAt time.Time      `db:"created_at" json:"createdAt"`
	UpdatedAt *time.Time     `db:"updated_at" json:"updatedAt,omitempty"`
}

type CampaignRules struct {
	MaxAttempts   int           `json:"maxAttempts"`
	TimeWindows   []TimeWindow  `json:"timeWindows"`
	RetryStrategy RetryStrategy `json:"retryStrategy"`
	// Timezone is an IANA zone name; windows are evaluated in UTC when empty.
	Timezone string `json:"timezone,omitempty"`
}

func (r CampaignRules) Value() (driver.Value, error) { return json.Marshal(r) }

func (r *CampaignRules) Scan(src any) error { return jsonScan(src, r) }

const DefaultMaxAttempts = 3

// Attempts returns the configured attempt cap, defaulting when unset.
func (r CampaignRules) Attempts() int {
	if r.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return r.MaxAttempts
}

func (r CampaignRules) Location() *time.Location {
	if r.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(r.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// AllowsCall reports whether t falls inside at least one window.
// A campaign without windows may call at any time.
func (r CampaignRules) AllowsCall(t time.Time) bool {
	if len(r.TimeWindows) == 0 {
		return true
	}
	local := t.In(r.Location())
	for _, w := range r.TimeWindows {
		if w.Contains(local.Weekday(), local.Hour()) {
			return true
		}
	}
	return false
}

type RetryStrategy struct {
	Delays             []int `json:"delays"` // minutes between attempts
	ExponentialBackoff bool  `json:"exponentialBackoff"`
	MaxDelay           int   `json:"maxDelay"`
}

// TimeWindow is a recurring weekday set with an hour range. DaysOfWeek uses 0 = Sunday.
type TimeWindow struct {
	DaysOfWeek []int  `json:"daysOfWeek"`
	StartTime  string `json:"startTime"` // "HH:MM"
	EndTime    string `json:"endTime"`   // "HH:MM"
}

// Contains matches the weekday and an inclusive hour range: a 09:00-17:00 window
// accepts every minute of hour 17.
func (w TimeWindow) Contains(day time.Weekday, hour int) bool {
	dayOK := false
	for _, d := range w.DaysOfWeek {
		if time.Weekday(d) == day {
			dayOK = true
			break
		}
	}
	if !dayOK {
		return false
	}
	start, err := parseHour(w.StartTime)
	if err != nil {
		return false
	}
	end, err := parseHour(w.EndTime)
	if err != nil {
		return false
	}
	return hour >= start && hour <= end
}

func parseHour(hhmm string) (int, error) {
	h, _, _ := strings.Cut(strings.TrimSpace(hhmm), ":")
	n, err := strconv.Atoi(h)
	if err != nil || n < 0 || n > 23 {
		return 0, fmt.Errorf("invalid time %q", hhmm)
	}
	return n, nil
}

// CampaignProgress is the aggregate used by status reconciliation.
type CampaignProgress struct {
	TotalContacts     int `json:"totalContacts"`
	ProcessedContacts int `json:"processedContacts"`
}

// Percent returns processed/total*100, or 0 for an empty campaign.
func (p CampaignProgress) Percent() float64 {
	if p.TotalContacts <= 0 {
		return 0
	}
	return float64(p.ProcessedContacts) / float64(p.TotalContacts) * 100
}

// Done reports whether every contact reached a terminal status.
func (p CampaignProgress) Done() bool {
	return p.ProcessedContacts >= p.TotalContacts
}
