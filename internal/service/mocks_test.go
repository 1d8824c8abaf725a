package service_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/unclebandit/supportmail-backend/internal/directory"
	appErrors "github.com/unclebandit/supportmail-backend/internal/errors"
	"github.com/unclebandit/supportmail-backend/internal/logger"
	"github.com/unclebandit/supportmail-backend/internal/mailer"
	"github.com/unclebandit/supportmail-backend/internal/model"
	"github.com/unclebandit/supportmail-backend/internal/queue"
	"github.com/unclebandit/supportmail-backend/internal/repository"
	"github.com/unclebandit/supportmail-backend/internal/service"
)

var errBoom = errors.New("boom")

// ====================== Campaigns ======================

type MockCampaignRepo struct {
	mu         sync.Mutex
	campaigns  map[int]*model.Campaign
	recipients map[int][]string
	nextID     int
	confirmErr error
}

func NewMockCampaignRepo(cs ...*model.Campaign) *MockCampaignRepo {
	m := &MockCampaignRepo{campaigns: map[int]*model.Campaign{}, recipients: map[int][]string{}}
	for _, c := range cs {
		m.campaigns[c.ID] = c
		if c.ID > m.nextID {
			m.nextID = c.ID
		}
	}
	return m
}

func (m *MockCampaignRepo) Create(_ context.Context, c *model.Campaign) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	c.ID = m.nextID
	c.CreatedAt = time.Now()
	cp := *c
	m.campaigns[c.ID] = &cp
	return nil
}

func (m *MockCampaignRepo) GetByID(_ context.Context, id int) (*model.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	cp := *c
	return &cp, nil
}

func (m *MockCampaignRepo) sorted() []*model.Campaign {
	all := make([]*model.Campaign, 0, len(m.campaigns))
	for _, c := range m.campaigns {
		cp := *c
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })
	return all
}

func (m *MockCampaignRepo) ListCampaigns(_ context.Context, offset, limit int) ([]*model.Campaign, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.sorted()
	if offset >= len(all) {
		return []*model.Campaign{}, len(all), nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], len(all), nil
}

func (m *MockCampaignRepo) ListAll(_ context.Context) ([]*model.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted(), nil
}

func (m *MockCampaignRepo) Count(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.campaigns), nil
}

func (m *MockCampaignRepo) Confirm(_ context.Context, id, senderID int, recipients []string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.confirmErr != nil {
		return false, m.confirmErr
	}
	c, ok := m.campaigns[id]
	if !ok || c.SenderID != senderID || c.Confirmed || c.ResolvedAt != nil {
		return false, nil
	}
	now := time.Now()
	c.Confirmed = true
	c.RecipientsNumber = len(recipients)
	c.ResolvedAt = &now
	m.recipients[id] = append([]string(nil), recipients...)
	return true, nil
}

func (m *MockCampaignRepo) Recipients(_ context.Context, id int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.campaigns[id]; !ok {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	return append([]string(nil), m.recipients[id]...), nil
}

func (m *MockCampaignRepo) MarkPrepared(_ context.Context, id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.campaigns[id]; ok && c.Confirmed && c.PreparedAt == nil {
		now := time.Now()
		c.PreparedAt = &now
	}
	return nil
}

func (m *MockCampaignRepo) ListUnprepared(_ context.Context) ([]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []int
	for id, c := range m.campaigns {
		if c.Confirmed && c.PreparedAt == nil {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids, nil
}

// stored returns the live row for assertions.
func (m *MockCampaignRepo) stored(id int) model.Campaign {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.campaigns[id]
}

func (m *MockCampaignRepo) GetCampaignStats(_ context.Context, _ int) (map[string]int, error) {
	return map[string]int{model.DeliveryQueued: 1, model.DeliverySent: 2, model.DeliveryFailed: 0}, nil
}

func (m *MockCampaignRepo) incDelivered(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.campaigns[id]; ok {
		c.DeliveredNumber++
	}
}

func (m *MockCampaignRepo) incUnsubscriptions(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.campaigns[id]; ok {
		c.Unsubscriptions++
	}
}

var _ repository.CampaignRepositoryInterface = (*MockCampaignRepo)(nil)

// ====================== Deliveries ======================

type MockDeliveryRepo struct {
	mu        sync.Mutex
	records   map[int]*model.DeliveryRecord
	nextID    int
	calls     int
	failCalls map[int]bool // 1-based CreateBatch calls that fail
	campaigns *MockCampaignRepo
}

func NewMockDeliveryRepo(campaigns *MockCampaignRepo) *MockDeliveryRepo {
	return &MockDeliveryRepo{
		records:   map[int]*model.DeliveryRecord{},
		failCalls: map[int]bool{},
		campaigns: campaigns,
	}
}

func (m *MockDeliveryRepo) CreateBatch(_ context.Context, campaignID int, emails []string) ([]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.failCalls[m.calls] {
		return nil, errBoom
	}
	var ids []int
	for _, e := range emails {
		if m.exists(campaignID, e) {
			continue
		}
		m.nextID++
		m.records[m.nextID] = &model.DeliveryRecord{
			ID: m.nextID, CampaignID: campaignID, Email: e, Status: model.DeliveryQueued,
		}
		ids = append(ids, m.nextID)
	}
	return ids, nil
}

func (m *MockDeliveryRepo) exists(campaignID int, email string) bool {
	for _, r := range m.records {
		if r.CampaignID == campaignID && r.Email == email {
			return true
		}
	}
	return false
}

func (m *MockDeliveryRepo) GetByID(_ context.Context, id int) (*model.DeliveryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return nil, appErrors.NewNotFound("delivery record %d", id)
	}
	cp := *r
	return &cp, nil
}

func (m *MockDeliveryRepo) ListQueued(_ context.Context, afterID, limit int) ([]model.DeliveryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.DeliveryRecord
	for id := afterID + 1; id <= m.nextID && len(out) < limit; id++ {
		if r, ok := m.records[id]; ok && r.Status == model.DeliveryQueued {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *MockDeliveryRepo) Claim(_ context.Context, id int, staleBefore time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok || r.Status != model.DeliveryQueued {
		return false, nil
	}
	if r.ClaimedAt != nil && !r.ClaimedAt.Before(staleBefore) {
		return false, nil
	}
	now := time.Now()
	r.ClaimedAt = &now
	return true, nil
}

func (m *MockDeliveryRepo) count(campaignID int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.records {
		if r.CampaignID == campaignID {
			n++
		}
	}
	return n
}

func (m *MockDeliveryRepo) Complete(_ context.Context, id int, status, lastError string) (bool, error) {
	m.mu.Lock()
	r, ok := m.records[id]
	if !ok || r.Status != model.DeliveryQueued {
		m.mu.Unlock()
		return false, nil
	}
	r.Status, r.LastError = status, lastError
	campaignID := r.CampaignID
	m.mu.Unlock()

	if status == model.DeliverySent {
		m.campaigns.incDelivered(campaignID)
	}
	return true, nil
}

func (m *MockDeliveryRepo) status(id int) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records[id].Status
}

var _ repository.DeliveryRepositoryInterface = (*MockDeliveryRepo)(nil)

// ====================== Users & optouts ======================

type MockUserRepo struct {
	users   []*model.User
	matched []string
	err     error
}

func (m *MockUserRepo) find(pred func(*model.User) bool, what string) (*model.User, error) {
	for _, u := range m.users {
		if pred(u) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, appErrors.NewNotFound("user %s", what)
}

func (m *MockUserRepo) GetByID(_ context.Context, id int) (*model.User, error) {
	return m.find(func(u *model.User) bool { return u.ID == id }, "by id")
}

func (m *MockUserRepo) GetByEmail(_ context.Context, email string) (*model.User, error) {
	return m.find(func(u *model.User) bool { return u.Email == email }, email)
}

func (m *MockUserRepo) GetByUsername(_ context.Context, username string) (*model.User, error) {
	return m.find(func(u *model.User) bool { return u.Username == username }, username)
}

func (m *MockUserRepo) MatchEmails(_ context.Context, _ model.FilterSpec) ([]string, error) {
	return m.matched, m.err
}

var _ repository.UserRepositoryInterface = (*MockUserRepo)(nil)

type MockOptoutRepo struct {
	mu        sync.Mutex
	optouts   map[int]bool
	campaigns *MockCampaignRepo
}

func NewMockOptoutRepo(campaigns *MockCampaignRepo) *MockOptoutRepo {
	return &MockOptoutRepo{optouts: map[int]bool{}, campaigns: campaigns}
}

func (m *MockOptoutRepo) Exists(_ context.Context, userID int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.optouts[userID], nil
}

func (m *MockOptoutRepo) Unsubscribe(_ context.Context, userID, campaignID int) (bool, error) {
	m.mu.Lock()
	if m.optouts[userID] {
		m.mu.Unlock()
		return false, nil
	}
	m.optouts[userID] = true
	m.mu.Unlock()
	if campaignID != 0 {
		m.campaigns.incUnsubscriptions(campaignID)
	}
	return true, nil
}

func (m *MockOptoutRepo) Resubscribe(_ context.Context, userID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.optouts, userID)
	return nil
}

var _ repository.OptoutRepositoryInterface = (*MockOptoutRepo)(nil)

type MockTemplateRepo struct {
	mu        sync.Mutex
	templates map[int]*model.Template
	lookups   int
}

func (m *MockTemplateRepo) GetByID(_ context.Context, id int) (*model.Template, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups++
	t, ok := m.templates[id]
	if !ok {
		return nil, appErrors.NewNotFound("template %d", id)
	}
	return t, nil
}

func (m *MockTemplateRepo) List(_ context.Context) ([]model.Template, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Template
	for _, t := range m.templates {
		out = append(out, *t)
	}
	return out, nil
}

var _ repository.TemplateRepositoryInterface = (*MockTemplateRepo)(nil)

// ====================== Collaborators ======================

type MockDirectory struct {
	emails []string
	err    error
	calls  int
}

func (m *MockDirectory) EnrolledEmails(_ context.Context, _ directory.EnrollmentQuery) ([]string, error) {
	m.calls++
	return m.emails, m.err
}

// MockTransport records messages; addresses in failFor are rejected.
type MockTransport struct {
	mu      sync.Mutex
	sent    []mailer.Message
	failFor map[string]bool
	delay   time.Duration
}

func (m *MockTransport) Send(_ context.Context, msg mailer.Message) error {
	time.Sleep(m.delay)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failFor[msg.To] {
		return errBoom
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *MockTransport) Sent() []mailer.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mailer.Message(nil), m.sent...)
}

type MockQueue struct {
	mu        sync.Mutex
	published map[string][]queue.Job
}

func (m *MockQueue) Publish(topic string, job queue.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.published == nil {
		m.published = map[string][]queue.Job{}
	}
	m.published[topic] = append(m.published[topic], job)
	return nil
}

func (m *MockQueue) Subscribe(_ context.Context, _ string, _ queue.Handler) error {
	return nil
}

func (m *MockQueue) Jobs(topic string) []queue.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]queue.Job(nil), m.published[topic]...)
}

// ====================== Fixture ======================

type fixture struct {
	campaigns  *MockCampaignRepo
	deliveries *MockDeliveryRepo
	users      *MockUserRepo
	optouts    *MockOptoutRepo
	dir        *MockDirectory
	transport  *MockTransport
	queue      *MockQueue
	resolver   *service.RecipientResolver
	tracker    *service.DeliveryTracker
}

func newFixture(cs ...*model.Campaign) *fixture {
	log := logger.Discard()
	f := &fixture{
		campaigns: NewMockCampaignRepo(cs...),
		users: &MockUserRepo{users: []*model.User{
			{ID: 1, Username: "staff", Email: "staff@example.com", FirstName: "Sam", IsStaff: true},
			{ID: 2, Username: "ann", Email: "ann@example.com", FirstName: "Ann"},
			{ID: 3, Username: "bob", Email: "bob@example.com", FirstName: "Bob"},
		}},
		dir:       &MockDirectory{},
		transport: &MockTransport{failFor: map[string]bool{}},
		queue:     &MockQueue{},
	}
	f.deliveries = NewMockDeliveryRepo(f.campaigns)
	f.optouts = NewMockOptoutRepo(f.campaigns)
	f.resolver = &service.RecipientResolver{
		Users:     f.users,
		Directory: f.dir,
		Log:       log,
	}
	f.tracker = &service.DeliveryTracker{
		Campaigns:  f.campaigns,
		Deliveries: f.deliveries,
		Users:      f.users,
		Transport:  f.transport,
		Queue:      f.queue,
		Config: service.TrackerConfig{
			BatchSize:             100,
			Concurrency:           4,
			BaseURL:               "https://support.example.com",
			PlatformName:          "Example",
			From:                  "support@example.com",
			ListUnsubscribeHeader: true,
		},
		Log: log,
	}
	return f
}
