// internal/service/campaign_service.go
package service

import (
	"context"
	"strings"
	"time"

	appErrors "github.com/unclebandit/voicereach-engine/internal/errors"
	"github.com/unclebandit/voicereach-engine/internal/model"
	"github.com/unclebandit/voicereach-engine/internal/repository"
)

// CampaignJobSubmitter is the part of Jobs the campaign API needs.
type CampaignJobSubmitter interface {
	AddCampaignJob(ctx context.Context, job model.CampaignJob) (string, error)
}

type CampaignService struct {
	CampaignRepo repository.CampaignRepositoryInterface
	Jobs         CampaignJobSubmitter
}

type NewContact struct {
	PhoneNumber     string     `json:"phoneNumber" validate:"required,e164"`
	CustomerName    string     `json:"customerName"`
	DebtAmount      float64    `json:"debtAmount" validate:"gte=0"`
	LastPaymentDate *time.Time `json:"lastPaymentDate"`
}

type CreateCampaignInput struct {
	Name     string              `json:"name" validate:"required"`
	FlowID   string              `json:"flowId" validate:"required"`
	Rules    model.CampaignRules `json:"rules"`
	Contacts []NewContact        `json:"contacts" validate:"dive"`
}

type CampaignDetails struct {
	model.Campaign
	Stats    model.CampaignProgress `json:"stats"`
	Progress float64                `json:"progress"`
}

func (s *CampaignService) CreateCampaign(ctx context.Context, in CreateCampaignInput) (*model.Campaign, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := validateJob(in); err != nil {
		return nil, err
	}
	for _, w := range in.Rules.TimeWindows {
		if len(w.DaysOfWeek) == 0 {
			return nil, appErrors.NewValidation("rules.timeWindows", "daysOfWeek cannot be empty")
		}
	}
	if in.Rules.Timezone != "" {
		if _, err := time.LoadLocation(in.Rules.Timezone); err != nil {
			return nil, appErrors.NewValidation("rules.timezone", err.Error())
		}
	}

	c := &model.Campaign{
		Name:   in.Name,
		FlowID: in.FlowID,
		Rules:  in.Rules,
		Status: model.CampaignDraft,
	}
	if err := s.CampaignRepo.Create(ctx, c); err != nil {
		return nil, err
	}
	if len(in.Contacts) > 0 {
		if err := s.AddContacts(ctx, c.ID, in.Contacts); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// AddContacts attaches contacts to a campaign that has not started yet.
// Phone numbers already on the campaign are ignored.
func (s *CampaignService) AddContacts(ctx context.Context, campaignID string, contacts []NewContact) error {
	c, err := s.CampaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return err
	}
	if c.Status != model.CampaignDraft && c.Status != model.CampaignScheduled {
		return appErrors.NewValidation("status", "contacts can only be added before the campaign starts")
	}
	rows := make([]model.CampaignContact, 0, len(contacts))
	for _, nc := range contacts {
		if err := validateJob(nc); err != nil {
			return err
		}
		rows = append(rows, model.CampaignContact{
			CampaignID:      campaignID,
			PhoneNumber:     nc.PhoneNumber,
			CustomerName:    nc.CustomerName,
			DebtAmount:      nc.DebtAmount,
			LastPaymentDate: nc.LastPaymentDate,
			Status:          model.ContactPending,
		})
	}
	return s.CampaignRepo.AddContacts(ctx, campaignID, rows)
}

// ListCampaigns fetches campaigns with pagination
func (s *CampaignService) ListCampaigns(ctx context.Context, page, pageSize int, status string) ([]model.Campaign, map[string]int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	offset := (page - 1) * pageSize

	ptrs, total, err := s.CampaignRepo.ListCampaigns(ctx, offset, pageSize, status)
	if err != nil {
		return nil, nil, err
	}

	campaigns := make([]model.Campaign, len(ptrs))
	for i, c := range ptrs {
		campaigns[i] = *c
	}

	totalPages := (total + pageSize - 1) / pageSize
	pagination := map[string]int{
		"page":        page,
		"page_size":   pageSize,
		"total_count": total,
		"total_pages": totalPages,
	}

	return campaigns, pagination, nil
}

func (s *CampaignService) GetCampaignDetailsWithStats(ctx context.Context, id string) (*CampaignDetails, error) {
	c, err := s.CampaignRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	p, err := s.CampaignRepo.GetProgress(ctx, id)
	if err != nil {
		return nil, err
	}
	return &CampaignDetails{Campaign: *c, Stats: p, Progress: model.Round2(p.Percent())}, nil
}

var controlTargets = map[model.CampaignAction]model.CampaignStatus{
	model.ActionSchedule: model.CampaignScheduled,
	model.ActionStart:    model.CampaignRunning,
	model.ActionPause:    model.CampaignPaused,
	model.ActionResume:   model.CampaignRunning,
	model.ActionStop:     model.CampaignCancelled,
}

// Control submits a lifecycle action. The transition is checked against the
// current status up front and again by the executor when the task runs.
func (s *CampaignService) Control(ctx context.Context, id string, action model.CampaignAction, prio model.Priority) (string, error) {
	to, ok := controlTargets[action]
	if !ok {
		return "", appErrors.NewValidation("action", "unsupported action "+string(action))
	}
	c, err := s.CampaignRepo.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	allowed := model.CanTransition(c.Status, to)
	switch action {
	case model.ActionStart:
		allowed = c.Status == model.CampaignScheduled
	case model.ActionResume:
		allowed = c.Status == model.CampaignPaused
	}
	if !allowed {
		return "", appErrors.NewInvalidTransition(string(c.Status), string(to))
	}
	return s.Jobs.AddCampaignJob(ctx, model.CampaignJob{CampaignID: id, Action: action, Priority: prio})
}
