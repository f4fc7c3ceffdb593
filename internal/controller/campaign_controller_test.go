package controller_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/unclebandit/voicereach-engine/internal/controller"
	appErrors "github.com/unclebandit/voicereach-engine/internal/errors"
	"github.com/unclebandit/voicereach-engine/internal/model"
	"github.com/unclebandit/voicereach-engine/internal/service"
)

// --- Mock Repositories ---

type MockCampaignRepoForPagination struct {
	campaigns []*model.Campaign
	contacts  map[string][]model.CampaignContact
}

func (m *MockCampaignRepoForPagination) ListCampaigns(ctx context.Context, offset, limit int, status string) ([]*model.Campaign, int, error) {
	var filtered []*model.Campaign
	for _, c := range m.campaigns {
		if status != "" && string(c.Status) != status {
			continue
		}
		filtered = append(filtered, c)
	}
	total := len(filtered)

	// Simulate pagination
	start := offset
	end := offset + limit
	if start > total {
		return []*model.Campaign{}, total, nil
	}
	if end > total {
		end = total
	}
	return filtered[start:end], total, nil
}

func (m *MockCampaignRepoForPagination) GetByID(ctx context.Context, id string) (*model.Campaign, error) {
	for _, c := range m.campaigns {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, appErrors.NewCampaignNotFound(id)
}

func (m *MockCampaignRepoForPagination) Create(ctx context.Context, c *model.Campaign) error {
	c.ID = fmt.Sprintf("c-%d", len(m.campaigns)+1)
	m.campaigns = append(m.campaigns, c)
	return nil
}

func (m *MockCampaignRepoForPagination) UpdateStatus(ctx context.Context, id string, status model.CampaignStatus) error {
	return nil
}

func (m *MockCampaignRepoForPagination) AddContacts(ctx context.Context, campaignID string, contacts []model.CampaignContact) error {
	if m.contacts == nil {
		m.contacts = map[string][]model.CampaignContact{}
	}
	m.contacts[campaignID] = append(m.contacts[campaignID], contacts...)
	return nil
}

func (m *MockCampaignRepoForPagination) GetContacts(ctx context.Context, campaignID string) ([]model.CampaignContact, error) {
	return m.contacts[campaignID], nil
}

func (m *MockCampaignRepoForPagination) GetContact(ctx context.Context, campaignID, contactID string) (*model.CampaignContact, error) {
	return nil, appErrors.NewNotFound("contact", contactID)
}

func (m *MockCampaignRepoForPagination) UpdateContactStatus(ctx context.Context, campaignID, contactID string, status model.ContactStatus, attempt int) error {
	return nil
}

func (m *MockCampaignRepoForPagination) GetProgress(ctx context.Context, campaignID string) (model.CampaignProgress, error) {
	return model.CampaignProgress{TotalContacts: len(m.contacts[campaignID])}, nil
}

type MockCampaignJobs struct {
	jobs []model.CampaignJob
}

func (m *MockCampaignJobs) AddCampaignJob(ctx context.Context, job model.CampaignJob) (string, error) {
	m.jobs = append(m.jobs, job)
	return "job-" + strconv.Itoa(len(m.jobs)), nil
}

// withParams routes a request through chi so URL params resolve.
func withParams(method, pattern, target string, body []byte, h http.HandlerFunc) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.MethodFunc(method, pattern, h)
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// --- Test Functions ---

func TestListCampaignsPagination(t *testing.T) {
	// --- Seed only campaigns that match the filter ---
	totalCampaigns := 25
	campaigns := []*model.Campaign{}
	for i := 1; i <= totalCampaigns; i++ {
		campaigns = append(campaigns, &model.Campaign{
			ID:     "c-" + strconv.Itoa(i),
			Name:   "Campaign " + strconv.Itoa(i),
			Status: model.CampaignDraft,
		})
	}

	repo := &MockCampaignRepoForPagination{campaigns: campaigns}
	svc := &service.CampaignService{CampaignRepo: repo}
	ctrl := &controller.CampaignController{CampaignService: svc}

	pageSize := 10
	seen := map[string]bool{}
	totalPages := (totalCampaigns + pageSize - 1) / pageSize

	for page := 1; page <= totalPages; page++ {
		req := httptest.NewRequest(
			"GET",
			"/campaigns?page="+strconv.Itoa(page)+
				"&page_size="+strconv.Itoa(pageSize)+
				"&status=draft",
			nil,
		)
		w := httptest.NewRecorder()

		ctrl.ListCampaigns(w, req)
		resp := w.Result()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d", resp.StatusCode)
		}

		var res struct {
			Data       []model.Campaign `json:"data"`
			Pagination struct {
				Page       int `json:"page"`
				PageSize   int `json:"page_size"`
				TotalCount int `json:"total_count"`
				TotalPages int `json:"total_pages"`
			} `json:"pagination"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}

		if res.Pagination.Page != page {
			t.Errorf("expected page %d, got %d", page, res.Pagination.Page)
		}
		if res.Pagination.PageSize != pageSize {
			t.Errorf("expected page size %d, got %d", pageSize, res.Pagination.PageSize)
		}
		if res.Pagination.TotalCount != totalCampaigns || res.Pagination.TotalPages != totalPages {
			t.Errorf("expected %d/%d, got %d/%d", totalCampaigns, totalPages, res.Pagination.TotalCount, res.Pagination.TotalPages)
		}

		for _, c := range res.Data {
			if seen[c.ID] {
				t.Errorf("duplicate campaign ID %s across pages", c.ID)
			}
			seen[c.ID] = true
			if c.Status != model.CampaignDraft {
				t.Errorf("expected status draft, got %s", c.Status)
			}
		}
	}

	if len(seen) != totalCampaigns {
		t.Errorf("expected %d unique campaigns, got %d", totalCampaigns, len(seen))
	}
}

func TestCreateCampaignThenDetails(t *testing.T) {
	repo := &MockCampaignRepoForPagination{}
	ctrl := &controller.CampaignController{CampaignService: &service.CampaignService{CampaignRepo: repo}}

	body := `{"name":"Arrears","flowId":"flow-1","contacts":[{"phoneNumber":"+254700000001"}]}`
	w := httptest.NewRecorder()
	ctrl.CreateCampaign(w, httptest.NewRequest("POST", "/campaigns", strings.NewReader(body)))
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	w = withParams("GET", "/campaigns/{id}", "/campaigns/c-1", nil, ctrl.GetCampaignDetails)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var details struct {
		ID    string `json:"id"`
		Stats struct {
			TotalContacts int `json:"totalContacts"`
		} `json:"stats"`
	}
	json.NewDecoder(w.Body).Decode(&details)
	if details.ID != "c-1" || details.Stats.TotalContacts != 1 {
		t.Errorf("unexpected details %+v", details)
	}
}

func TestCreateCampaignRejectsUnknownFields(t *testing.T) {
	ctrl := &controller.CampaignController{CampaignService: &service.CampaignService{CampaignRepo: &MockCampaignRepoForPagination{}}}
	w := httptest.NewRecorder()
	ctrl.CreateCampaign(w, httptest.NewRequest("POST", "/campaigns", strings.NewReader(`{"name":"x","flowId":"f","channel":"sms"}`)))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestGetCampaignDetailsNotFound(t *testing.T) {
	ctrl := &controller.CampaignController{CampaignService: &service.CampaignService{CampaignRepo: &MockCampaignRepoForPagination{}}}
	w := withParams("GET", "/campaigns/{id}", "/campaigns/ghost", nil, ctrl.GetCampaignDetails)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestControlStatusCodes(t *testing.T) {
	cases := []struct {
		target string
		status int
	}{
		{"/campaigns/c-1/schedule", http.StatusAccepted},
		{"/campaigns/c-1/start", http.StatusConflict},
		{"/campaigns/c-1/explode", http.StatusBadRequest},
		{"/campaigns/c-9/schedule", http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.target, func(t *testing.T) {
			jobs := &MockCampaignJobs{}
			repo := &MockCampaignRepoForPagination{campaigns: []*model.Campaign{{ID: "c-1", Status: model.CampaignDraft}}}
			svc := &service.CampaignService{CampaignRepo: repo, Jobs: jobs}
			ctrl := &controller.CampaignController{CampaignService: svc}

			w := withParams("POST", "/campaigns/{id}/{action}", tc.target, nil, ctrl.Control)
			if w.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, w.Code, w.Body.String())
			}
			if tc.status == http.StatusAccepted && len(jobs.jobs) != 1 {
				t.Errorf("expected one job, got %d", len(jobs.jobs))
			}
		})
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{appErrors.NewValidation("f", "bad"), http.StatusBadRequest},
		{fmt.Errorf("wrapped: %w", appErrors.NewCampaignNotFound("c")), http.StatusNotFound},
		{appErrors.NewInvalidTransition("draft", "running"), http.StatusConflict},
		{appErrors.NewAuth("nope"), http.StatusUnauthorized},
		{appErrors.NewRateLimit("u1"), http.StatusTooManyRequests},
		{errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := controller.StatusFor(tc.err); got != tc.want {
			t.Errorf("%v: expected %d, got %d", tc.err, tc.want, got)
		}
	}
}
