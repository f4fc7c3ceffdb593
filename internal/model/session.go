// internal/model/session.go
package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

type SessionStatus string

const (
	SessionRinging   SessionStatus = "ringing"
	SessionAnswered  SessionStatus = "answered"
	SessionCompleted SessionStatus = "completed"
)

type CallResult string

const (
	ResultSuccessful CallResult = "successful"
	ResultFailed     CallResult = "failed"
	ResultHungUp     CallResult = "hung_up"
	ResultNoAnswer   CallResult = "no_answer"
)

type AudioProcessingStatus string

const (
	AudioPending    AudioProcessingStatus = "pending"
	AudioProcessing AudioProcessingStatus = "processing"
	AudioCompleted  AudioProcessingStatus = "completed"
	AudioFailed     AudioProcessingStatus = "failed"
)

// Session is the record of one dialed attempt and its audio analysis.
type Session struct {
	ID                    string                `db:"id" json:"id"`
	CampaignID            string                `db:"campaign_id" json:"campaignId,omitempty"`
	ContactID             string                `db:"contact_id" json:"contactId,omitempty"`
	CallID                string                `db:"call_id" json:"callId"`
	AgentID               string                `db:"agent_id" json:"agentId,omitempty"`
	PhoneNumber           string                `db:"phone_number" json:"phoneNumber"`
	CustomerName          string                `db:"customer_name" json:"customerName,omitempty"`
	AttemptNumber         int                   `db:"attempt_number" json:"attemptNumber"`
	Status                SessionStatus         `db:"status" json:"status"`
	Result                CallResult            `db:"result" json:"result,omitempty"`
	Duration              int                   `db:"duration" json:"duration"` // seconds
	AudioFileID           string                `db:"audio_file_id" json:"audioFileId,omitempty"`
	Transcription         string                `db:"transcription" json:"transcription,omitempty"`
	SentimentAnalysis     *SentimentAnalysis    `db:"sentiment_analysis" json:"sentimentAnalysis,omitempty"`
	ProtocolCompliance    *ProtocolCompliance   `db:"protocol_compliance" json:"protocolCompliance,omitempty"`
	Summary               string                `db:"summary" json:"summary,omitempty"`
	AudioProcessingStatus AudioProcessingStatus `db:"audio_processing_status" json:"audioProcessingStatus"`
	AudioProcessingError  string                `db:"audio_processing_error" json:"audioProcessingError,omitempty"`
	Metadata              Metadata              `db:"metadata" json:"metadata,omitempty"`
	StartTime             time.Time             `db:"start_time" json:"startTime"`
	EndTime               *time.Time            `db:"end_time" json:"endTime,omitempty"`
	CreatedAt             time.Time             `db:"created_at" json:"createdAt"`
	UpdatedAt             time.Time             `db:"updated_at" json:"updatedAt"`
}

// SessionUpdate carries the fields to change; nil fields are left untouched.
type SessionUpdate struct {
	Status                *SessionStatus
	Result                *CallResult
	Duration              *int
	AudioFileID           *string
	Transcription         *string
	SentimentAnalysis     *SentimentAnalysis
	ProtocolCompliance    *ProtocolCompliance
	Summary               *string
	AudioProcessingStatus *AudioProcessingStatus
	AudioProcessingError  *string
	EndTime               *time.Time
	AgentID               *string
	// Metadata is merged into the stored metadata.
	Metadata Metadata
}

// SessionFilter narrows ListSessions. Zero values mean "no constraint".
type SessionFilter struct {
	CampaignID string
	AgentID    string
	From       *time.Time
	To         *time.Time
	Limit      int
}

type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

type SentimentAnalysis struct {
	Overall    Sentiment `json:"overall"`
	Confidence float64   `json:"confidence"`
}

func (s *SentimentAnalysis) Value() (driver.Value, error) {
	if s == nil {
		return nil, nil
	}
	return json.Marshal(s)
}

func (s *SentimentAnalysis) Scan(src any) error { return jsonScan(src, s) }

type ProtocolCompliance struct {
	Compliant    bool     `json:"compliant"`
	MissingSteps []string `json:"missingSteps,omitempty"`
}

func (p *ProtocolCompliance) Value() (driver.Value, error) {
	if p == nil {
		return nil, nil
	}
	return json.Marshal(p)
}

func (p *ProtocolCompliance) Scan(src any) error { return jsonScan(src, p) }

// Metadata holds free-form call annotations such as payment_status.
type Metadata map[string]string

func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func (m *Metadata) Scan(src any) error { return jsonScan(src, m) }

func jsonScan(src any, dst any) error {
	switch b := src.(type) {
	case nil:
		return nil
	case []byte:
		if len(b) == 0 {
			return nil
		}
		return json.Unmarshal(b, dst)
	case string:
		if b == "" {
			return nil
		}
		return json.Unmarshal([]byte(b), dst)
	default:
		return fmt.Errorf("unsupported json column type %T", src)
	}
}
