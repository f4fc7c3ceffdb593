// internal/model/jobs.go
package model

// Task payloads carried by the named queues. Validation tags are checked on
// submission and again when a worker picks the task up.

type CampaignAction string

const (
	ActionSchedule        CampaignAction = "schedule"
	ActionStart           CampaignAction = "start"
	ActionProcessContacts CampaignAction = "process_contacts"
	ActionCheckStatus     CampaignAction = "check_status"
	ActionPause           CampaignAction = "pause"
	ActionResume          CampaignAction = "resume"
	ActionStop            CampaignAction = "stop"
)

type CampaignJob struct {
	CampaignID string         `json:"campaignId" validate:"required"`
	Action     CampaignAction `json:"action" validate:"required,oneof=schedule start process_contacts check_status pause resume stop"`
	ContactIDs []string       `json:"contactIds,omitempty" validate:"required_if=Action process_contacts,dive,required"`
	Priority   Priority       `json:"priority,omitempty" validate:"omitempty,oneof=high normal low"`
}

type ContactCallJob struct {
	CampaignID    string   `json:"campaignId" validate:"required"`
	ContactID     string   `json:"contactId" validate:"required"`
	PhoneNumber   string   `json:"phoneNumber" validate:"required"`
	CustomerName  string   `json:"customerName,omitempty"`
	AttemptNumber int      `json:"attemptNumber" validate:"gte=1"`
	MaxAttempts   int      `json:"maxAttempts" validate:"gte=1,gtefield=AttemptNumber"`
	Priority      Priority `json:"priority,omitempty" validate:"omitempty,oneof=high normal low"`
}

type AudioJob struct {
	SessionID   string   `json:"sessionId" validate:"required"`
	AudioFileID string   `json:"audioFileId" validate:"required_without=AudioURL"`
	AudioURL    string   `json:"audioUrl,omitempty" validate:"omitempty,url"`
	CampaignID  string   `json:"campaignId,omitempty"`
	RetryCount  int      `json:"retryCount" validate:"gte=0"`
	MaxRetries  int      `json:"maxRetries" validate:"gte=0"`
	Priority    Priority `json:"priority,omitempty" validate:"omitempty,oneof=high normal low"`
}

type BatchAudioJob struct {
	Items    []AudioJob `json:"items" validate:"required,min=1,dive"`
	Priority Priority   `json:"priority,omitempty" validate:"omitempty,oneof=high normal low"`
}

// BatchResult aggregates a sequential batch run.
type BatchResult struct {
	Total     int               `json:"total"`
	Succeeded int               `json:"succeeded"`
	Failed    int               `json:"failed"`
	Items     []BatchItemResult `json:"items"`
}

type BatchItemResult struct {
	SessionID string `json:"sessionId"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
}

type AnalyticsJob struct {
	Type        AnalyticsType `json:"type" validate:"required,oneof=conversation_metrics sentiment_distribution agent_performance hourly_effectiveness payment_failures dashboard full_recalc"`
	DateRange   *DateRange    `json:"dateRange,omitempty"`
	CampaignID  string        `json:"campaignId,omitempty"`
	AgentID     string        `json:"agentId,omitempty"`
	ForceRecalc bool          `json:"forceRecalc,omitempty"`
	Priority    Priority      `json:"priority,omitempty" validate:"omitempty,oneof=high normal low"`
}

type RecurringAnalyticsJob struct {
	Type     RecurringType `json:"type" validate:"required,oneof=hourly daily weekly monthly"`
	Priority Priority      `json:"priority,omitempty" validate:"omitempty,oneof=high normal low"`
}

const DefaultAudioMaxRetries = 3
