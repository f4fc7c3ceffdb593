// internal/model/events.go
package model

import "time"

// Server -> subscriber event names.
const (
	EventCampaignStatus   = "campaign:status"
	EventCampaignUpdated  = "campaign:updated"
	EventSessionCreated   = "session:created"
	EventSessionUpdated   = "session:updated"
	EventSessionCompleted = "session:completed"
	EventAnalyticsUpdated = "analytics:updated"
	EventCallRinging      = "call:ringing"
	EventCallAnswered     = "call:answered"
	EventCallEnded        = "call:ended"
	EventAudioProcessed   = "audio:processed"
	EventError            = "error"
)

// Machine codes carried by error events.
const (
	CodeCampaignExecution    = "CAMPAIGN_EXECUTION_ERROR"
	CodeContactCallFailed    = "CONTACT_CALL_FAILED"
	CodeAudioProcessing      = "AUDIO_PROCESSING_ERROR"
	CodeAnalyticsCalculation = "ANALYTICS_CALCULATION_ERROR"
	CodeAuthentication       = "AUTHENTICATION_ERROR"
	CodeRateLimited          = "RATE_LIMITED"
)

type CampaignStatusEvent struct {
	CampaignID        string         `json:"campaignId"`
	Status            CampaignStatus `json:"status"`
	Progress          *float64       `json:"progress,omitempty"`
	TotalContacts     *int           `json:"totalContacts,omitempty"`
	ProcessedContacts *int           `json:"processedContacts,omitempty"`
	Timestamp         time.Time      `json:"timestamp"`
}

type CampaignUpdatedEvent struct {
	CampaignID string         `json:"campaignId"`
	Changes    map[string]any `json:"changes"`
	Timestamp  time.Time      `json:"timestamp"`
}

type SessionCreatedEvent struct {
	SessionID  string        `json:"sessionId"`
	CampaignID string        `json:"campaignId,omitempty"`
	CustomerID string        `json:"customerId,omitempty"`
	StartTime  time.Time     `json:"startTime"`
	Status     SessionStatus `json:"status"`
}

type SessionUpdatedEvent struct {
	SessionID string         `json:"sessionId"`
	Changes   map[string]any `json:"changes"`
	Timestamp time.Time      `json:"timestamp"`
}

type SessionCompletedEvent struct {
	SessionID string     `json:"sessionId"`
	Duration  int        `json:"duration"`
	Result    CallResult `json:"result"`
	Summary   string     `json:"summary,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

type AnalyticsUpdatedEvent struct {
	Type      string    `json:"type"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

type CallRingingEvent struct {
	SessionID    string `json:"sessionId"`
	PhoneNumber  string `json:"phoneNumber"`
	CustomerName string `json:"customerName,omitempty"`
	CampaignID   string `json:"campaignId"`
}

type CallAnsweredEvent struct {
	SessionID string    `json:"sessionId"`
	Duration  int       `json:"duration"`
	Timestamp time.Time `json:"timestamp"`
}

type CallEndedEvent struct {
	SessionID string     `json:"sessionId"`
	Duration  int        `json:"duration"`
	Result    CallResult `json:"result"`
	Timestamp time.Time  `json:"timestamp"`
}

type AudioProcessedEvent struct {
	SessionID          string              `json:"sessionId"`
	Transcription      string              `json:"transcription,omitempty"`
	Sentiment          *SentimentAnalysis  `json:"sentiment,omitempty"`
	ProtocolCompliance *ProtocolCompliance `json:"protocolCompliance,omitempty"`
	Summary            string              `json:"summary,omitempty"`
	Timestamp          time.Time           `json:"timestamp"`
}

// ErrorEvent is what subscribers see of a failure: message and code, no internals.
type ErrorEvent struct {
	Message   string    `json:"message"`
	Code      string    `json:"code,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
