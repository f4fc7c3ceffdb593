// internal/model/analytics.go
package model

import (
	"encoding/json"
	"math"
	"strings"
	"time"
)

type AnalyticsType string

const (
	AnalyticsConversationMetrics   AnalyticsType = "conversation_metrics"
	AnalyticsSentimentDistribution AnalyticsType = "sentiment_distribution"
	AnalyticsAgentPerformance      AnalyticsType = "agent_performance"
	AnalyticsHourlyEffectiveness   AnalyticsType = "hourly_effectiveness"
	AnalyticsPaymentFailures       AnalyticsType = "payment_failures"
	AnalyticsDashboard             AnalyticsType = "dashboard"
	AnalyticsFullRecalc            AnalyticsType = "full_recalc"
)

type RecurringType string

const (
	RecurringHourly  RecurringType = "hourly"
	RecurringDaily   RecurringType = "daily"
	RecurringWeekly  RecurringType = "weekly"
	RecurringMonthly RecurringType = "monthly"
)

// Window returns the trailing range a recurring tick covers, ending at now.
func (r RecurringType) Window(now time.Time) DateRange {
	var span time.Duration
	switch r {
	case RecurringHourly:
		span = time.Hour
	case RecurringWeekly:
		span = 7 * 24 * time.Hour
	case RecurringMonthly:
		span = 30 * 24 * time.Hour
	default:
		span = 24 * time.Hour
	}
	return DateRange{StartDate: now.Add(-span), EndDate: now}
}

type DateRange struct {
	StartDate time.Time `json:"startDate" validate:"required"`
	EndDate   time.Time `json:"endDate" validate:"required,gtefield=StartDate"`
}

// AnalyticsCacheKey renders type|start|end|campaign:<id>|agent:<id>, omitting absent parts.
func AnalyticsCacheKey(t AnalyticsType, r *DateRange, campaignID, agentID string) string {
	parts := []string{string(t)}
	if r != nil {
		parts = append(parts, r.StartDate.UTC().Format(time.RFC3339Nano), r.EndDate.UTC().Format(time.RFC3339Nano))
	}
	if campaignID != "" {
		parts = append(parts, "campaign:"+campaignID)
	}
	if agentID != "" {
		parts = append(parts, "agent:"+agentID)
	}
	return strings.Join(parts, "|")
}

const DefaultAnalyticsTTL = 5 * time.Minute

// AnalyticsCacheEntry is a computed result plus its freshness bounds.
type AnalyticsCacheEntry struct {
	Key       string          `db:"cache_key" json:"key"`
	Type      AnalyticsType   `db:"type" json:"type"`
	Data      json.RawMessage `db:"payload" json:"data"`
	Timestamp time.Time       `db:"computed_at" json:"timestamp"`
	TTL       time.Duration   `db:"ttl_ms" json:"ttl"`
}

// Fresh reports whether now - Timestamp <= TTL.
func (e AnalyticsCacheEntry) Fresh(now time.Time) bool {
	return now.Sub(e.Timestamp) <= e.TTL
}

// Percent returns part/total as a percentage rounded to two decimals, 0 when total is 0.
func Percent(part, total int) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(float64(part)/float64(total)*10000) / 100
}

// Round2 rounds to two decimal places.
func Round2(x float64) float64 {
	return math.Round(x*100) / 100
}

type ConversationMetrics struct {
	TotalConversations      int        `json:"totalConversations"`
	SuccessfulConversations int        `json:"successfulConversations"`
	FailedConversations     int        `json:"failedConversations"`
	SuccessRate             float64    `json:"successRate"`
	AvgDuration             int        `json:"avgDuration"`
	DateRange               *DateRange `json:"dateRange,omitempty"`
	CampaignID              string     `json:"campaignId,omitempty"`
	CalculatedAt            time.Time  `json:"calculatedAt"`
}

type SentimentBucket struct {
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

type SentimentDistribution struct {
	Distribution  map[Sentiment]SentimentBucket `json:"distribution"`
	TotalSessions int                           `json:"totalSessions"`
	DateRange     *DateRange                    `json:"dateRange,omitempty"`
	CampaignID    string                        `json:"campaignId,omitempty"`
	CalculatedAt  time.Time                     `json:"calculatedAt"`
}

type AgentStats struct {
	AgentID                   string  `json:"agentId"`
	TotalCalls                int     `json:"totalCalls"`
	SuccessfulCalls           int     `json:"successfulCalls"`
	AvgCallDuration           int     `json:"avgCallDuration"`
	ProtocolComplianceRate    float64 `json:"protocolComplianceRate"`
	CustomerSatisfactionScore float64 `json:"customerSatisfactionScore"`
	ConversionRate            float64 `json:"conversionRate"`
}

type AgentPerformance struct {
	AgentStats
	Agents       []AgentStats `json:"agents,omitempty"`
	DateRange    *DateRange   `json:"dateRange,omitempty"`
	CalculatedAt time.Time    `json:"calculatedAt"`
}

type HourStat struct {
	Hour            int     `json:"hour"`
	TotalCalls      int     `json:"totalCalls"`
	SuccessfulCalls int     `json:"successfulCalls"`
	AvgDuration     int     `json:"avgDuration"`
	SuccessRate     float64 `json:"successRate"`
}

type HourlyEffectiveness struct {
	HourlyStats  []HourStat `json:"hourlyStats"`
	DateRange    *DateRange `json:"dateRange,omitempty"`
	CampaignID   string     `json:"campaignId,omitempty"`
	CalculatedAt time.Time  `json:"calculatedAt"`
}

type FailureReason struct {
	Reason string `json:"reason"`
	Count  int    `json:"count"`
}

type PaymentFailures struct {
	TotalPaymentAttempts int             `json:"totalPaymentAttempts"`
	FailedPayments       int             `json:"failedPayments"`
	FailureRate          float64         `json:"failureRate"`
	CommonFailureReasons []FailureReason `json:"commonFailureReasons"`
	DateRange            *DateRange      `json:"dateRange,omitempty"`
	CampaignID           string          `json:"campaignId,omitempty"`
	CalculatedAt         time.Time       `json:"calculatedAt"`
}

type Dashboard struct {
	ConversationMetrics   ConversationMetrics   `json:"conversationMetrics"`
	SentimentDistribution SentimentDistribution `json:"sentimentDistribution"`
	HourlyEffectiveness   HourlyEffectiveness   `json:"hourlyEffectiveness"`
	DateRange             *DateRange            `json:"dateRange,omitempty"`
	CalculatedAt          time.Time             `json:"calculatedAt"`
}

type RecalcItem struct {
	Type    AnalyticsType `json:"type"`
	Success bool          `json:"success"`
	Data    any           `json:"data"`
	Error   string        `json:"error,omitempty"`
}

type FullRecalc struct {
	FullRecalculation bool         `json:"fullRecalculation"`
	Results           []RecalcItem `json:"results"`
	DateRange         *DateRange   `json:"dateRange,omitempty"`
	CalculatedAt      time.Time    `json:"calculatedAt"`
}

// Metadata keys read by payment failure analysis.
const (
	MetaPaymentStatus        = "payment_status"
	MetaPaymentFailureReason = "payment_failure_reason"
)
