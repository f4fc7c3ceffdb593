package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/voicereach-engine/internal/errors"
	"github.com/unclebandit/voicereach-engine/internal/integrations"
	"github.com/unclebandit/voicereach-engine/internal/model"
	"github.com/unclebandit/voicereach-engine/internal/queue"
)

var nopLog = zerolog.Nop()

// Mock campaign repository, in memory
type MockCampaignRepo struct {
	mu        sync.Mutex
	campaigns map[string]*model.Campaign
	contacts  map[string][]model.CampaignContact
	statuses  []model.CampaignStatus
}

func NewMockCampaignRepo(cs ...*model.Campaign) *MockCampaignRepo {
	m := &MockCampaignRepo{campaigns: map[string]*model.Campaign{}, contacts: map[string][]model.CampaignContact{}}
	for _, c := range cs {
		m.campaigns[c.ID] = c
	}
	return m
}

func (m *MockCampaignRepo) Create(ctx context.Context, c *model.Campaign) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.ID = fmt.Sprintf("c-%d", len(m.campaigns)+1)
	c.CreatedAt = time.Now()
	cp := *c
	m.campaigns[c.ID] = &cp
	return nil
}

func (m *MockCampaignRepo) GetByID(ctx context.Context, id string) (*model.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	cp := *c
	return &cp, nil
}

func (m *MockCampaignRepo) ListCampaigns(ctx context.Context, offset, limit int, status string) ([]*model.Campaign, int, error) {
	return []*model.Campaign{}, 0, nil
}

func (m *MockCampaignRepo) UpdateStatus(ctx context.Context, id string, status model.CampaignStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return appErrors.NewCampaignNotFound(id)
	}
	c.Status = status
	m.statuses = append(m.statuses, status)
	return nil
}

func (m *MockCampaignRepo) Status(id string) model.CampaignStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.campaigns[id].Status
}

func (m *MockCampaignRepo) AddContacts(ctx context.Context, campaignID string, contacts []model.CampaignContact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range contacts {
		c.ID = fmt.Sprintf("%s-k%d", campaignID, len(m.contacts[campaignID])+1)
		m.contacts[campaignID] = append(m.contacts[campaignID], c)
	}
	return nil
}

func (m *MockCampaignRepo) GetContacts(ctx context.Context, campaignID string) ([]model.CampaignContact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.CampaignContact(nil), m.contacts[campaignID]...), nil
}

func (m *MockCampaignRepo) GetContact(ctx context.Context, campaignID, contactID string) (*model.CampaignContact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.contacts[campaignID] {
		if c.ID == contactID {
			return &c, nil
		}
	}
	return nil, appErrors.NewNotFound("contact", contactID)
}

func (m *MockCampaignRepo) UpdateContactStatus(ctx context.Context, campaignID, contactID string, status model.ContactStatus, attempt int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, c := range m.contacts[campaignID] {
		if c.ID == contactID {
			m.contacts[campaignID][i].Status = status
			m.contacts[campaignID][i].Attempts = max(c.Attempts, attempt)
			return nil
		}
	}
	return appErrors.NewNotFound("contact", contactID)
}

func (m *MockCampaignRepo) Contact(campaignID, contactID string) model.CampaignContact {
	c, _ := m.GetContact(context.Background(), campaignID, contactID)
	return *c
}

func (m *MockCampaignRepo) GetProgress(ctx context.Context, campaignID string) (model.CampaignProgress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var p model.CampaignProgress
	for _, c := range m.contacts[campaignID] {
		p.TotalContacts++
		if c.Status != model.ContactPending {
			p.ProcessedContacts++
		}
	}
	return p, nil
}

// Mock session repository, in memory
type MockSessionRepo struct {
	mu        sync.Mutex
	sessions  []*model.Session
	listCalls int
}

func (m *MockSessionRepo) Create(ctx context.Context, s *model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.ID = fmt.Sprintf("s-%d", len(m.sessions)+1)
	cp := *s
	m.sessions = append(m.sessions, &cp)
	return nil
}

func (m *MockSessionRepo) Update(ctx context.Context, id string, u model.SessionUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.ID != id {
			continue
		}
		if u.Status != nil {
			s.Status = *u.Status
		}
		if u.Result != nil {
			s.Result = *u.Result
		}
		if u.Duration != nil {
			s.Duration = *u.Duration
		}
		if u.AudioFileID != nil {
			s.AudioFileID = *u.AudioFileID
		}
		if u.Transcription != nil {
			s.Transcription = *u.Transcription
		}
		if u.SentimentAnalysis != nil {
			s.SentimentAnalysis = u.SentimentAnalysis
		}
		if u.ProtocolCompliance != nil {
			s.ProtocolCompliance = u.ProtocolCompliance
		}
		if u.Summary != nil {
			s.Summary = *u.Summary
		}
		if u.AudioProcessingStatus != nil {
			s.AudioProcessingStatus = *u.AudioProcessingStatus
		}
		if u.AudioProcessingError != nil {
			s.AudioProcessingError = *u.AudioProcessingError
		}
		if u.EndTime != nil {
			s.EndTime = u.EndTime
		}
		if u.AgentID != nil {
			s.AgentID = *u.AgentID
		}
		for k, v := range u.Metadata {
			if s.Metadata == nil {
				s.Metadata = model.Metadata{}
			}
			s.Metadata[k] = v
		}
		return nil
	}
	return appErrors.NewSessionNotFound(id)
}

func (m *MockSessionRepo) GetByID(ctx context.Context, id string) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.ID == id {
			cp := *s
			return &cp, nil
		}
	}
	return nil, appErrors.NewSessionNotFound(id)
}

func (m *MockSessionRepo) GetByCallID(ctx context.Context, callID string) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.CallID == callID {
			cp := *s
			return &cp, nil
		}
	}
	return nil, appErrors.NewNotFound("session", callID)
}

func (m *MockSessionRepo) GetByContactAndCampaign(ctx context.Context, contactID, campaignID string) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var found *model.Session
	for _, s := range m.sessions {
		if s.ContactID != contactID || s.CampaignID != campaignID {
			continue
		}
		if s.Result == model.ResultSuccessful {
			cp := *s
			return &cp, nil
		}
		found = s
	}
	if found == nil {
		return nil, nil
	}
	cp := *found
	return &cp, nil
}

func (m *MockSessionRepo) List(ctx context.Context, f model.SessionFilter) ([]model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++
	var out []model.Session
	for _, s := range m.sessions {
		if f.CampaignID != "" && s.CampaignID != f.CampaignID {
			continue
		}
		if f.AgentID != "" && s.AgentID != f.AgentID {
			continue
		}
		if f.From != nil && s.StartTime.Before(*f.From) {
			continue
		}
		if f.To != nil && s.StartTime.After(*f.To) {
			continue
		}
		out = append(out, *s)
	}
	return out, nil
}

func (m *MockSessionRepo) ListCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listCalls
}

func (m *MockSessionRepo) Session(id string) model.Session {
	s, _ := m.GetByID(context.Background(), id)
	return *s
}

// fakeQueue records submissions instead of storing them.
type fakeQueue struct {
	mu       sync.Mutex
	name     string
	base     time.Duration
	paused   bool
	enqueued []queue.EnqueueOptions
	tasks    []*queue.Task
}

func newFakeQueue(name string) *fakeQueue {
	return &fakeQueue{name: name, base: time.Second}
}

func (q *fakeQueue) Name() string { return q.name }

func (q *fakeQueue) Enqueue(ctx context.Context, opts queue.EnqueueOptions) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if opts.DedupKey != "" {
		for _, t := range q.tasks {
			if t.DedupKey == opts.DedupKey {
				return t.ID, nil
			}
		}
	}
	id := fmt.Sprintf("%s-%d", q.name, len(q.tasks)+1)
	q.enqueued = append(q.enqueued, opts)
	q.tasks = append(q.tasks, &queue.Task{ID: id, Queue: q.name, Name: opts.Name, Tag: opts.Tag, DedupKey: opts.DedupKey, Priority: opts.Priority})
	return id, nil
}

func (q *fakeQueue) RemoveMatching(ctx context.Context, match func(*queue.Task) bool) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	kept := q.tasks[:0]
	removed := 0
	for _, t := range q.tasks {
		if match(t) {
			removed++
			continue
		}
		kept = append(kept, t)
	}
	q.tasks = kept
	return removed, nil
}

func (q *fakeQueue) Backoff(attempt int) time.Duration {
	d := q.base
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}

func (q *fakeQueue) Pause() { q.mu.Lock(); q.paused = true; q.mu.Unlock() }
func (q *fakeQueue) Resume() { q.mu.Lock(); q.paused = false; q.mu.Unlock() }

func (q *fakeQueue) Paused() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.paused
}

func (q *fakeQueue) Stats(ctx context.Context) (queue.Stats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return queue.Stats{Name: q.name, Waiting: len(q.tasks), Paused: q.paused}, nil
}

func (q *fakeQueue) Enqueued() []queue.EnqueueOptions {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]queue.EnqueueOptions(nil), q.enqueued...)
}

func (q *fakeQueue) Live() []*queue.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*queue.Task(nil), q.tasks...)
}

type emitted struct {
	Target string
	Event  string
	Data   any
}

// fakeHub records every emission.
type fakeHub struct {
	mu     sync.Mutex
	events []emitted
}

func (h *fakeHub) add(target, event string, data any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, emitted{Target: target, Event: event, Data: data})
}

func (h *fakeHub) EmitToCampaign(id, event string, data any) { h.add("campaign:"+id, event, data) }
func (h *fakeHub) EmitToUser(id, event string, data any) { h.add("user:"+id, event, data) }
func (h *fakeHub) EmitToRole(role model.Role, event string, data any) {
	h.add("role:"+string(role), event, data)
}
func (h *fakeHub) EmitGlobal(event string, data any) { h.add("global", event, data) }

func (h *fakeHub) Events(event string) []emitted {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []emitted
	for _, e := range h.events {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

// MockCallEngine fails the first failN calls.
type MockCallEngine struct {
	mu    sync.Mutex
	calls []integrations.CallRequest
	failN int
}

var errEngineDown = errors.New("call engine unavailable")

func (m *MockCallEngine) InitiateCall(ctx context.Context, req integrations.CallRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, req)
	if len(m.calls) <= m.failN {
		return "", errEngineDown
	}
	return fmt.Sprintf("call-%d", len(m.calls)), nil
}

func (m *MockCallEngine) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// MockCache is an in-memory analytics cache.
type MockCache struct {
	mu      sync.Mutex
	entries map[string]model.AnalyticsCacheEntry
	clears  int
}

func NewMockCache() *MockCache {
	return &MockCache{entries: map[string]model.AnalyticsCacheEntry{}}
}

func (m *MockCache) Get(ctx context.Context, key string) (*model.AnalyticsCacheEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (m *MockCache) Set(ctx context.Context, e model.AnalyticsCacheEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[e.Key] = e
	return nil
}

func (m *MockCache) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = map[string]model.AnalyticsCacheEntry{}
	m.clears++
	return nil
}

// clock is a settable time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock(t time.Time) *clock { return &clock{now: t} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
