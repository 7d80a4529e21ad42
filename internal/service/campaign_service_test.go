package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/unclebandit/campaign-dispatch/internal/audience"
	"github.com/unclebandit/campaign-dispatch/internal/dispatch"
	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/queue"
	"github.com/unclebandit/campaign-dispatch/internal/repository"
	"github.com/unclebandit/campaign-dispatch/internal/scheduler"
	"github.com/unclebandit/campaign-dispatch/internal/sender"
	"github.com/unclebandit/campaign-dispatch/internal/service"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const owner int64 = 1

func strPtr(s string) *string { return &s }

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// outbox records every delivery handed to the channel senders.
type outbox struct {
	mu   sync.Mutex
	sent []sender.Delivery
	fail map[string]error
}

func (o *outbox) Send(_ context.Context, d sender.Delivery) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.fail[d.Address]; err != nil {
		return err
	}
	o.sent = append(o.sent, d)
	return nil
}

func (o *outbox) deliveries() []sender.Delivery {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]sender.Delivery(nil), o.sent...)
}

type harness struct {
	store    *repository.MemoryStore
	queue    *queue.InMemoryQueue
	clock    *fakeClock
	outbox   *outbox
	pipeline *service.Pipeline
	svc      *service.CampaignService
	sched    *scheduler.Scheduler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := repository.NewMemoryStore()
	q := queue.NewInMemoryQueue(nil)
	clock := &fakeClock{now: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)}
	box := &outbox{fail: map[string]error{}}

	lifecycle := service.NewLifecycle(store, nil)
	senders := sender.NewRegistry().Register(model.ChannelEmail, box).Register(model.ChannelWhatsApp, box)
	pipeline := service.NewPipeline(store.Stores(), senders, dispatch.New(2, 0, time.Second, nil), lifecycle, nil)
	pipeline.NewRunID = func() string { return "run-1" }
	svc := &service.CampaignService{
		CampaignRepo: store,
		CustomerRepo: store,
		Lifecycle:    lifecycle,
		Queue:        q,
		Clock:        clock,
	}
	worker := service.NewWorker(pipeline, nil)
	require.NoError(t, worker.Start(context.Background(), q, queue.TopicCampaignDispatch))
	t.Cleanup(func() { _ = q.Close() })

	return &harness{
		store:    store,
		queue:    q,
		clock:    clock,
		outbox:   box,
		pipeline: pipeline,
		svc:      svc,
		sched:    scheduler.New(time.Minute, clock, store, lifecycle, svc.Handoff, nil),
	}
}

func (h *harness) campaign(t *testing.T, id int64) *model.Campaign {
	t.Helper()
	c, err := h.store.GetByID(context.Background(), id)
	require.NoError(t, err)
	return c
}

func emailInput(content string) service.CreateCampaignInput {
	return service.CreateCampaignInput{
		Name:         "Spring sale",
		Channel:      "email",
		AudienceType: "all",
		Content:      content,
	}
}

func TestCreateCampaign_ImmediateEmailToAllCustomers(t *testing.T) {
	h := newHarness(t)
	h.store.AddCustomer(model.Customer{OwnerID: owner, FullName: "Asha", Email: "asha@example.com"})
	h.store.AddCustomer(model.Customer{OwnerID: owner, FullName: "Ben", Email: "ben@example.com"})
	h.store.AddCustomer(model.Customer{OwnerID: owner, FullName: "Chidi", PhoneNumber: "555-0100"})
	h.store.AddCustomer(model.Customer{OwnerID: 2, FullName: "Other", Email: "other@example.com"})

	c, err := h.svc.CreateCampaign(context.Background(), owner, emailInput("Hi {name}"))
	require.NoError(t, err)
	assert.Equal(t, model.StatusProcessing, c.Status)

	h.queue.Wait()

	got := h.campaign(t, c.ID)
	assert.Equal(t, model.StatusCompleted, got.Status)
	require.NotNil(t, got.Results)
	assert.Equal(t, "run-1", got.Results.RunID)
	assert.Equal(t, 3, got.Results.TotalProcessed)
	assert.Equal(t, 2, got.Results.SuccessCount)
	assert.Equal(t, 1, got.Results.FailureCount)
	require.Len(t, got.Results.Details, 3)
	assert.Equal(t, "Chidi", got.Results.Details[2].Name)
	assert.Equal(t, model.OutcomeFailed, got.Results.Details[2].Outcome)
	assert.Equal(t, "missing email address", got.Results.Details[2].Error)

	sent := h.outbox.deliveries()
	require.Len(t, sent, 2)
	bodies := []string{sent[0].Body, sent[1].Body}
	assert.ElementsMatch(t, []string{"Hi Asha", "Hi Ben"}, bodies)
	assert.Equal(t, "Spring sale", sent[0].Subject)
}

func TestCreateCampaign_ScheduledRunsAfterClockPassesDueTime(t *testing.T) {
	h := newHarness(t)
	h.store.AddCustomer(model.Customer{OwnerID: owner, FullName: "Asha", Email: "asha@example.com"})

	in := emailInput("Reminder")
	at := h.clock.Now().Add(time.Hour)
	in.ScheduledAt = &at

	c, err := h.svc.CreateCampaign(context.Background(), owner, in)
	require.NoError(t, err)
	assert.Equal(t, model.StatusScheduled, c.Status)

	assert.Zero(t, h.sched.Tick(context.Background()))
	assert.Equal(t, model.StatusScheduled, h.campaign(t, c.ID).Status)

	h.clock.Advance(time.Hour)
	assert.Equal(t, 1, h.sched.Tick(context.Background()))
	h.queue.Wait()

	got := h.campaign(t, c.ID)
	assert.Equal(t, model.StatusCompleted, got.Status)
	assert.Equal(t, 1, got.Results.SuccessCount)

	// a later tick must not pick it up again
	assert.Zero(t, h.sched.Tick(context.Background()))
	assert.Len(t, h.outbox.deliveries(), 1)
}

func TestCreateCampaign_PastScheduleIsImmediate(t *testing.T) {
	h := newHarness(t)
	in := emailInput("Hello")
	at := h.clock.Now().Add(-time.Minute)
	in.ScheduledAt = &at

	c, err := h.svc.CreateCampaign(context.Background(), owner, in)
	require.NoError(t, err)
	assert.Equal(t, model.StatusProcessing, c.Status)
	h.queue.Wait()
	assert.Equal(t, model.StatusCompleted, h.campaign(t, c.ID).Status)
}

func TestCreateCampaign_ImportAudienceIsNormalizedAndDeduplicated(t *testing.T) {
	h := newHarness(t)
	in := service.CreateCampaignInput{
		Name:         "Launch",
		Channel:      "whatsapp",
		TemplateName: strPtr("launch_v1"),
		AudienceType: "import",
		ImportedRecipients: []audience.SourceRecord{
			{FullName: "Dev", PhoneNumber: "98765 43210"},
			{Name: "Dev again", Phone: "9876543210"},
			{Phone: "9123456789"},
		},
		Content: "Launch day",
	}

	c, err := h.svc.CreateCampaign(context.Background(), owner, in)
	require.NoError(t, err)
	h.queue.Wait()

	got := h.campaign(t, c.ID)
	assert.Equal(t, model.StatusCompleted, got.Status)
	assert.Equal(t, 2, got.Results.TotalProcessed)
	assert.Equal(t, "Dev", got.Results.Details[0].Name)
	assert.Equal(t, audience.DefaultName, got.Results.Details[1].Name)

	for _, d := range h.outbox.deliveries() {
		assert.Equal(t, "launch_v1", d.Subject)
	}
}

func TestCreateCampaign_Validation(t *testing.T) {
	h := newHarness(t)
	cases := map[string]service.CreateCampaignInput{
		"missing name":          {Channel: "email", AudienceType: "all", Content: "x"},
		"unknown channel":       {Name: "n", Channel: "sms", AudienceType: "all", Content: "x"},
		"whatsapp w/o template": {Name: "n", Channel: "whatsapp", AudienceType: "all", Content: "x"},
		"email with template":   {Name: "n", Channel: "email", TemplateName: strPtr("t"), AudienceType: "all", Content: "x"},
		"group w/o id":          {Name: "n", Channel: "email", AudienceType: "group", Content: "x"},
		"empty import":          {Name: "n", Channel: "email", AudienceType: "import", Content: "x"},
		"missing content":       {Name: "n", Channel: "email", AudienceType: "all"},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := h.svc.CreateCampaign(context.Background(), owner, in)
			assert.ErrorIs(t, err, appErrors.ErrValidation)
		})
	}
}

func TestCreateCampaign_UnknownGroupIsNotFound(t *testing.T) {
	h := newHarness(t)
	gid := int64(404)
	in := emailInput("x")
	in.AudienceType = "group"
	in.GroupID = &gid

	_, err := h.svc.CreateCampaign(context.Background(), owner, in)
	var nf *appErrors.ErrGroupNotFound
	assert.ErrorAs(t, err, &nf)
}

func TestSendNow_RejectsFinishedCampaign(t *testing.T) {
	h := newHarness(t)
	c, err := h.svc.CreateCampaign(context.Background(), owner, emailInput("x"))
	require.NoError(t, err)
	h.queue.Wait()
	require.Equal(t, model.StatusCompleted, h.campaign(t, c.ID).Status)

	_, err = h.svc.SendNow(context.Background(), owner, c.ID)
	assert.ErrorIs(t, err, appErrors.ErrClaimConflict)
	assert.True(t, service.IsConflict(err))
	assert.Equal(t, model.StatusCompleted, h.campaign(t, c.ID).Status)
}

func TestSendNow_ClaimsScheduledCampaignEarly(t *testing.T) {
	h := newHarness(t)
	in := emailInput("x")
	at := h.clock.Now().Add(24 * time.Hour)
	in.ScheduledAt = &at
	c, err := h.svc.CreateCampaign(context.Background(), owner, in)
	require.NoError(t, err)

	got, err := h.svc.SendNow(context.Background(), owner, c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusProcessing, got.Status)
	h.queue.Wait()
	assert.Equal(t, model.StatusCompleted, h.campaign(t, c.ID).Status)

	h.clock.Advance(48 * time.Hour)
	assert.Zero(t, h.sched.Tick(context.Background()))
}

func TestSendNow_OtherOwnerSeesNotFound(t *testing.T) {
	h := newHarness(t)
	in := emailInput("x")
	at := h.clock.Now().Add(time.Hour)
	in.ScheduledAt = &at
	c, err := h.svc.CreateCampaign(context.Background(), owner, in)
	require.NoError(t, err)

	_, err = h.svc.SendNow(context.Background(), 2, c.ID)
	assert.True(t, appErrors.IsNotFound(err))
	_, err = h.svc.GetStatus(context.Background(), 2, c.ID)
	assert.True(t, appErrors.IsNotFound(err))
}

func TestGetStatus_ReportsResults(t *testing.T) {
	h := newHarness(t)
	h.store.AddCustomer(model.Customer{OwnerID: owner, FullName: "Asha", Email: "asha@example.com"})
	c, err := h.svc.CreateCampaign(context.Background(), owner, emailInput("x"))
	require.NoError(t, err)
	h.queue.Wait()

	view, err := h.svc.GetStatus(context.Background(), owner, c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, view.Status)
	require.NotNil(t, view.Results)
	assert.Equal(t, 1, view.Results.SuccessCount)
	assert.Nil(t, view.Error)
}

// failingQueue rejects every publish.
type failingQueue struct{}

func (failingQueue) Publish(context.Context, string, int64) error { return errors.New("broker down") }
func (failingQueue) Subscribe(context.Context, string, queue.Handler) error {
	return nil
}
func (failingQueue) Close() error { return nil }

func TestCreateCampaign_HandoffFailureFailsCampaign(t *testing.T) {
	h := newHarness(t)
	h.svc.Queue = failingQueue{}

	_, err := h.svc.CreateCampaign(context.Background(), owner, emailInput("x"))
	require.Error(t, err)

	got := h.campaign(t, 1)
	assert.Equal(t, model.StatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Contains(t, *got.Error, "broker down")
}

func TestCreateCampaign_ClaimFailureReturnsStoredCampaign(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	lifecycle := h.svc.Lifecycle
	h.svc.Lifecycle = service.NewLifecycle(&flakyCampaigns{MemoryStore: h.store, claimErr: errors.New("deadlock detected")}, nil)

	c, err := h.svc.CreateCampaign(ctx, owner, emailInput("x"))
	require.ErrorContains(t, err, "deadlock detected")
	require.NotNil(t, c)
	assert.Equal(t, model.StatusPending, h.campaign(t, c.ID).Status)

	// the caller can start it by hand
	h.svc.Lifecycle = lifecycle
	started, err := h.svc.SendNow(ctx, owner, c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusProcessing, started.Status)
	h.queue.Wait()
	assert.Equal(t, model.StatusCompleted, h.campaign(t, c.ID).Status)
}
