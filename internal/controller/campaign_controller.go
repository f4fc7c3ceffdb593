// internal/controller/campaign_controller.go
package controller

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/unclebandit/voicereach-engine/internal/model"
	"github.com/unclebandit/voicereach-engine/internal/service"
)

type CampaignController struct {
	CampaignService *service.CampaignService
}

func (c *CampaignController) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var body service.CreateCampaignInput
	if err := decode(r, &body); err != nil {
		writeError(w, err)
		return
	}

	campaign, err := c.CampaignService.CreateCampaign(r.Context(), body)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, campaign)
}

func (c *CampaignController) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	// Parse query parameters; the service applies defaults and the page size cap
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	status := r.URL.Query().Get("status")

	campaigns, pagination, err := c.CampaignService.ListCampaigns(r.Context(), page, pageSize, status)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":       campaigns,
		"pagination": pagination,
	})
}

func (c *CampaignController) GetCampaignDetails(w http.ResponseWriter, r *http.Request) {
	details, err := c.CampaignService.GetCampaignDetailsWithStats(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, details)
}

func (c *CampaignController) AddContacts(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Contacts []service.NewContact `json:"contacts"`
	}
	if err := decode(r, &body); err != nil {
		writeError(w, err)
		return
	}

	id := chi.URLParam(r, "id")
	if err := c.CampaignService.AddContacts(r.Context(), id, body.Contacts); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"campaignId": id,
		"submitted":  len(body.Contacts),
	})
}

// Control queues schedule, start, pause, resume or stop for a campaign.
func (c *CampaignController) Control(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	action := model.CampaignAction(chi.URLParam(r, "action"))
	prio := model.Priority(r.URL.Query().Get("priority"))

	taskID, err := c.CampaignService.Control(r.Context(), id, action, prio)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"campaignId": id,
		"action":     action,
		"jobId":      taskID,
	})
}
