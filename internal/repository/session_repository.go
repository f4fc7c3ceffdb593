// internal/repository/session_repository.go
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	appErrors "github.com/unclebandit/voicereach-engine/internal/errors"
	"github.com/unclebandit/voicereach-engine/internal/model"
)

type SessionRepositoryInterface interface {
	Create(ctx context.Context, s *model.Session) error
	Update(ctx context.Context, id string, u model.SessionUpdate) error
	GetByID(ctx context.Context, id string) (*model.Session, error)
	GetByCallID(ctx context.Context, callID string) (*model.Session, error)
	GetByContactAndCampaign(ctx context.Context, contactID, campaignID string) (*model.Session, error)
	List(ctx context.Context, f model.SessionFilter) ([]model.Session, error)
}

type SessionRepository struct {
	DB *sql.DB
}

const sessionColumns = `id, campaign_id, contact_id, call_id, agent_id, phone_number, customer_name,
        attempt_number, status, result, duration, audio_file_id, transcription, sentiment_analysis,
        protocol_compliance, summary, audio_processing_status, audio_processing_error, metadata,
        start_time, end_time, created_at, updated_at`

// Create inserts a new session and fills in its generated ID.
func (r *SessionRepository) Create(ctx context.Context, s *model.Session) error {
	now := time.Now().UTC()
	s.CreatedAt = now
	s.UpdatedAt = now
	if s.StartTime.IsZero() {
		s.StartTime = now
	}
	if s.AudioProcessingStatus == "" {
		s.AudioProcessingStatus = model.AudioPending
	}

	query := `
        INSERT INTO sessions
        (campaign_id, contact_id, call_id, agent_id, phone_number, customer_name, attempt_number,
         status, audio_processing_status, metadata, start_time, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
        RETURNING id
    `
	return r.DB.QueryRowContext(ctx, query,
		nullable(s.CampaignID),
		nullable(s.ContactID),
		s.CallID,
		nullable(s.AgentID),
		s.PhoneNumber,
		s.CustomerName,
		s.AttemptNumber,
		s.Status,
		s.AudioProcessingStatus,
		s.Metadata,
		s.StartTime,
		s.CreatedAt,
		s.UpdatedAt,
	).Scan(&s.ID)
}

// Update writes the non-nil fields of u.
func (r *SessionRepository) Update(ctx context.Context, id string, u model.SessionUpdate) error {
	sets := []string{}
	args := []any{}
	argPos := 1
	add := func(col string, v any) {
		sets = append(sets, fmt.Sprintf("%s=$%d", col, argPos))
		args = append(args, v)
		argPos++
	}

	if u.Status != nil {
		add("status", *u.Status)
	}
	if u.Result != nil {
		add("result", *u.Result)
	}
	if u.Duration != nil {
		add("duration", *u.Duration)
	}
	if u.AudioFileID != nil {
		add("audio_file_id", *u.AudioFileID)
	}
	if u.Transcription != nil {
		add("transcription", *u.Transcription)
	}
	if u.SentimentAnalysis != nil {
		add("sentiment_analysis", u.SentimentAnalysis)
	}
	if u.ProtocolCompliance != nil {
		add("protocol_compliance", u.ProtocolCompliance)
	}
	if u.Summary != nil {
		add("summary", *u.Summary)
	}
	if u.AudioProcessingStatus != nil {
		add("audio_processing_status", *u.AudioProcessingStatus)
	}
	if u.AudioProcessingError != nil {
		add("audio_processing_error", nullable(*u.AudioProcessingError))
	}
	if u.EndTime != nil {
		add("end_time", *u.EndTime)
	}
	if u.AgentID != nil {
		add("agent_id", nullable(*u.AgentID))
	}
	if len(u.Metadata) > 0 {
		// merged into the stored object, keys in u.Metadata win
		sets = append(sets, fmt.Sprintf("metadata=COALESCE(metadata, '{}'::jsonb) || $%d::jsonb", argPos))
		args = append(args, u.Metadata)
		argPos++
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at=NOW()")

	query := fmt.Sprintf(`UPDATE sessions SET %s WHERE id=$%d`, strings.Join(sets, ", "), argPos)
	args = append(args, id)
	res, err := r.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return appErrors.NewSessionNotFound(id)
	}
	return nil
}

func (r *SessionRepository) GetByID(ctx context.Context, id string) (*model.Session, error) {
	s, err := r.getOne(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id=$1`, id)
	if s == nil && err == nil {
		return nil, appErrors.NewSessionNotFound(id)
	}
	return s, err
}

func (r *SessionRepository) GetByCallID(ctx context.Context, callID string) (*model.Session, error) {
	s, err := r.getOne(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE call_id=$1`, callID)
	if s == nil && err == nil {
		return nil, appErrors.NewNotFound("session for call", callID)
	}
	return s, err
}

// GetByContactAndCampaign returns the session for the pair, preferring a
// successful one over later attempts. It returns nil, nil when none exists.
func (r *SessionRepository) GetByContactAndCampaign(ctx context.Context, contactID, campaignID string) (*model.Session, error) {
	query := `SELECT ` + sessionColumns + `
        FROM sessions
        WHERE contact_id=$1 AND campaign_id=$2
        ORDER BY (result = 'successful') DESC NULLS LAST, created_at DESC
        LIMIT 1`
	return r.getOne(ctx, query, contactID, campaignID)
}

func (r *SessionRepository) List(ctx context.Context, f model.SessionFilter) ([]model.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE 1=1`
	args := []any{}
	argPos := 1

	if f.CampaignID != "" {
		query += fmt.Sprintf(" AND campaign_id=$%d", argPos)
		args = append(args, f.CampaignID)
		argPos++
	}
	if f.AgentID != "" {
		query += fmt.Sprintf(" AND agent_id=$%d", argPos)
		args = append(args, f.AgentID)
		argPos++
	}
	if f.From != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argPos)
		args = append(args, *f.From)
		argPos++
	}
	if f.To != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argPos)
		args = append(args, *f.To)
		argPos++
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 10000
	}
	query += fmt.Sprintf(" ORDER BY created_at LIMIT $%d", argPos)
	args = append(args, limit)

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := []model.Session{}
	for rows.Next() {
		var s model.Session
		if err := scanSession(rows, &s); err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

func (r *SessionRepository) getOne(ctx context.Context, query string, args ...any) (*model.Session, error) {
	var s model.Session
	if err := scanSession(r.DB.QueryRowContext(ctx, query, args...), &s); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

func scanSession(row interface{ Scan(...any) error }, s *model.Session) error {
	var (
		campaignID, contactID, agentID, customerName sql.NullString
		result, audioFileID, transcription, summary  sql.NullString
		audioErr                                     sql.NullString
		duration                                     sql.NullInt64
	)
	err := row.Scan(
		&s.ID, &campaignID, &contactID, &s.CallID, &agentID, &s.PhoneNumber, &customerName,
		&s.AttemptNumber, &s.Status, &result, &duration, &audioFileID, &transcription, &s.SentimentAnalysis,
		&s.ProtocolCompliance, &summary, &s.AudioProcessingStatus, &audioErr, &s.Metadata,
		&s.StartTime, &s.EndTime, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return err
	}
	s.CampaignID = campaignID.String
	s.ContactID = contactID.String
	s.AgentID = agentID.String
	s.CustomerName = customerName.String
	s.Result = model.CallResult(result.String)
	s.Duration = int(duration.Int64)
	s.AudioFileID = audioFileID.String
	s.Transcription = transcription.String
	s.Summary = summary.String
	s.AudioProcessingError = audioErr.String
	return nil
}

// nullable maps "" to SQL NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

var _ SessionRepositoryInterface = (*SessionRepository)(nil)
