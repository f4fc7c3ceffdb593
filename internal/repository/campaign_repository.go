// internal/repository/campaign_repository.go
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	appErrors "github.com/unclebandit/voicereach-engine/internal/errors"
	"github.com/unclebandit/voicereach-engine/internal/model"
)

type CampaignRepositoryInterface interface {
	// Campaigns
	Create(ctx context.Context, c *model.Campaign) error
	GetByID(ctx context.Context, id string) (*model.Campaign, error)
	ListCampaigns(ctx context.Context, offset, limit int, status string) ([]*model.Campaign, int, error)
	UpdateStatus(ctx context.Context, id string, status model.CampaignStatus) error

	// Contacts
	AddContacts(ctx context.Context, campaignID string, contacts []model.CampaignContact) error
	GetContacts(ctx context.Context, campaignID string) ([]model.CampaignContact, error)
	GetContact(ctx context.Context, campaignID, contactID string) (*model.CampaignContact, error)
	UpdateContactStatus(ctx context.Context, campaignID, contactID string, status model.ContactStatus, attempt int) error
	GetProgress(ctx context.Context, campaignID string) (model.CampaignProgress, error)
}

type CampaignRepository struct {
	DB *sql.DB
}

// ====================== Campaigns ======================

func (r *CampaignRepository) Create(ctx context.Context, c *model.Campaign) error {
	c.CreatedAt = time.Now().UTC()
	if c.Status == "" {
		c.Status = model.CampaignDraft
	}
	query := `
        INSERT INTO campaigns (name, status, rules, flow_id, created_at)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING id
    `
	return r.DB.QueryRowContext(ctx, query, c.Name, c.Status, c.Rules, c.FlowID, c.CreatedAt).Scan(&c.ID)
}

func (r *CampaignRepository) GetByID(ctx context.Context, id string) (*model.Campaign, error) {
	query := `
        SELECT id, name, status, rules, flow_id, created_at, updated_at
        FROM campaigns WHERE id=$1
    `
	var c model.Campaign
	err := r.DB.QueryRowContext(ctx, query, id).Scan(&c.ID, &c.Name, &c.Status, &c.Rules, &c.FlowID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewCampaignNotFound(id)
		}
		return nil, err
	}
	return &c, nil
}

func (r *CampaignRepository) ListCampaigns(ctx context.Context, offset, limit int, status string) ([]*model.Campaign, int, error) {
	campaigns := []*model.Campaign{}
	where := ` WHERE 1=1`
	args := []any{}
	argPos := 1

	if status != "" {
		where += fmt.Sprintf(" AND status=$%d", argPos)
		args = append(args, status)
		argPos++
	}

	var total int
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM campaigns`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT id, name, status, rules, flow_id, created_at, updated_at FROM campaigns` + where +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, limit, offset)

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	for rows.Next() {
		c := &model.Campaign{}
		if err := rows.Scan(&c.ID, &c.Name, &c.Status, &c.Rules, &c.FlowID, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, 0, err
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, total, rows.Err()
}

func (r *CampaignRepository) UpdateStatus(ctx context.Context, id string, status model.CampaignStatus) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE campaigns SET status=$1, updated_at=NOW() WHERE id=$2`, status, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return appErrors.NewCampaignNotFound(id)
	}
	return nil
}

// ====================== Contacts ======================

func (r *CampaignRepository) AddContacts(ctx context.Context, campaignID string, contacts []model.CampaignContact) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
        INSERT INTO campaign_contacts (campaign_id, phone_number, customer_name, debt_amount, last_payment_date, attempts, status)
        VALUES ($1, $2, $3, $4, $5, 0, 'pending')
        ON CONFLICT (campaign_id, phone_number) DO NOTHING
    `)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, c := range contacts {
		if _, err := stmt.ExecContext(ctx, campaignID, c.PhoneNumber, c.CustomerName, c.DebtAmount, c.LastPaymentDate); err != nil {
			return fmt.Errorf("insert contact %s: %w", c.PhoneNumber, err)
		}
	}
	return tx.Commit()
}

const contactColumns = `id, campaign_id, phone_number, customer_name, debt_amount, last_payment_date, attempts, status`

func scanContact(row interface{ Scan(...any) error }, c *model.CampaignContact) error {
	var name sql.NullString
	if err := row.Scan(&c.ID, &c.CampaignID, &c.PhoneNumber, &name, &c.DebtAmount, &c.LastPaymentDate, &c.Attempts, &c.Status); err != nil {
		return err
	}
	c.CustomerName = name.String
	return nil
}

func (r *CampaignRepository) GetContacts(ctx context.Context, campaignID string) ([]model.CampaignContact, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+contactColumns+` FROM campaign_contacts WHERE campaign_id=$1 ORDER BY id`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	contacts := []model.CampaignContact{}
	for rows.Next() {
		var c model.CampaignContact
		if err := scanContact(rows, &c); err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

func (r *CampaignRepository) GetContact(ctx context.Context, campaignID, contactID string) (*model.CampaignContact, error) {
	var c model.CampaignContact
	err := scanContact(r.DB.QueryRowContext(ctx,
		`SELECT `+contactColumns+` FROM campaign_contacts WHERE campaign_id=$1 AND id=$2`, campaignID, contactID), &c)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewNotFound("contact", contactID)
		}
		return nil, err
	}
	return &c, nil
}

// UpdateContactStatus sets the status and raises the attempt counter. The counter
// never moves backwards and never passes the campaign's max attempts.
func (r *CampaignRepository) UpdateContactStatus(ctx context.Context, campaignID, contactID string, status model.ContactStatus, attempt int) error {
	query := `
        UPDATE campaign_contacts cc
        SET status = $1,
            attempts = LEAST(GREATEST(cc.attempts, $2), COALESCE(NULLIF((c.rules->>'maxAttempts')::int, 0), $5)),
            updated_at = NOW()
        FROM campaigns c
        WHERE c.id = cc.campaign_id AND cc.campaign_id = $3 AND cc.id = $4
    `
	res, err := r.DB.ExecContext(ctx, query, status, attempt, campaignID, contactID, model.DefaultMaxAttempts)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return appErrors.NewNotFound("contact", contactID)
	}
	return nil
}

// GetProgress counts contacts; processed means the contact left pending.
func (r *CampaignRepository) GetProgress(ctx context.Context, campaignID string) (model.CampaignProgress, error) {
	var p model.CampaignProgress
	err := r.DB.QueryRowContext(ctx, `
        SELECT COUNT(*), COUNT(*) FILTER (WHERE status <> 'pending')
        FROM campaign_contacts WHERE campaign_id=$1
    `, campaignID).Scan(&p.TotalContacts, &p.ProcessedContacts)
	return p, err
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)
