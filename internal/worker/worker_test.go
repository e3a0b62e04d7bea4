package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zflow/zflow/internal/queue"
	"github.com/zflow/zflow/internal/realtime"
	"github.com/zflow/zflow/internal/whatsapp"
	"github.com/zflow/zflow/internal/worker/domain"
	"github.com/zflow/zflow/internal/worker/storage"
	"github.com/zflow/zflow/shared/database"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []whatsapp.Message
	fail map[string]error // by recipient
}

func (s *fakeSender) Send(_ context.Context, msg whatsapp.Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail[msg.To]; err != nil {
		return "", err
	}
	s.sent = append(s.sent, msg)
	return "wamid." + msg.To, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []realtime.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e realtime.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

type enqueued struct {
	queue, name string
	data        any
}

type fakeEnqueuer struct {
	mu   sync.Mutex
	jobs []enqueued
	err  error
}

func (e *fakeEnqueuer) Add(_ context.Context, queueName, jobName string, data any) (*queue.Job, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	e.jobs = append(e.jobs, enqueued{queueName, jobName, data})
	return &queue.Job{ID: "job-" + jobName}, nil
}

type fixture struct {
	db        *sqlx.DB
	worker    *Worker
	sender    *fakeSender
	events    *recordingPublisher
	enqueuer  *fakeEnqueuer
	createdAt time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	client, err := database.NewSQLiteMemory(logger)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	f := &fixture{
		db:        client.GetDB(),
		sender:    &fakeSender{fail: map[string]error{}},
		events:    &recordingPublisher{},
		enqueuer:  &fakeEnqueuer{},
		createdAt: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
	}
	f.worker = NewWorker(&Config{
		Logger:     logger,
		Storage:    storage.NewStorage(f.db, logger),
		Sender:     f.sender,
		Events:     f.events,
		Enqueuer:   f.enqueuer,
		BatchSize:  2,
		StaleAfter: 24 * time.Hour,
	})
	f.worker.now = func() time.Time { return f.createdAt.Add(48 * time.Hour) }

	f.exec(t, `INSERT INTO tenants (id, name, created_at) VALUES (?, ?, ?)`, "t1", "Acme", f.createdAt)
	f.exec(t, `INSERT INTO users (id, tenant_id, name, email, password_hash, role, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		"u1", "t1", "Ana", "ana@acme.io", "x", "agent", f.createdAt)
	return f
}

func (f *fixture) exec(t *testing.T, query string, args ...any) {
	t.Helper()
	_, err := f.db.Exec(f.db.Rebind(query), args...)
	require.NoError(t, err)
}

func (f *fixture) contact(t *testing.T, id, phone string) {
	f.exec(t, `INSERT INTO contacts (id, tenant_id, name, phone, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, "t1", "Contact "+id, phone, f.createdAt)
}

func (f *fixture) ticket(t *testing.T, id, contactID, status string, userID *string, updatedAt time.Time) {
	f.exec(t, `INSERT INTO tickets (id, tenant_id, contact_id, user_id, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, "t1", contactID, userID, status, f.createdAt, updatedAt)
}

func (f *fixture) message(t *testing.T, id, ticketID, status string) {
	f.exec(t, `INSERT INTO messages (id, tenant_id, ticket_id, body, from_me, status, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, "t1", ticketID, "hello", true, status, f.createdAt)
}

func (f *fixture) scalar(t *testing.T, query string, args ...any) string {
	t.Helper()
	var v string
	require.NoError(t, f.db.Get(&v, f.db.Rebind(query), args...))
	return v
}

func newJob(t *testing.T, payload any, attempts, maxAttempts int) *queue.Job {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return &queue.Job{ID: "j1", Data: data, Attempts: attempts, MaxAttempts: maxAttempts}
}

func strPtr(s string) *string { return &s }

func TestSendMessage_Delivers(t *testing.T) {
	f := newFixture(t)
	f.contact(t, "c1", "5511999")
	f.ticket(t, "tk1", "c1", domain.TicketStatusOpen, strPtr("u1"), f.createdAt)
	f.message(t, "m1", "tk1", domain.MessageStatusPending)

	result, err := f.worker.sendMessage(context.Background(),
		newJob(t, queue.SendMessagePayload{TenantID: "t1", MessageID: "m1"}, 1, 3))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"externalId": "wamid.5511999"}, result)

	require.Len(t, f.sender.sent, 1)
	assert.Equal(t, "hello", f.sender.sent[0].Body)
	assert.Equal(t, domain.MessageStatusSent, f.scalar(t, `SELECT status FROM messages WHERE id = ?`, "m1"))
	assert.Equal(t, "wamid.5511999", f.scalar(t, `SELECT external_id FROM messages WHERE id = ?`, "m1"))
}

func TestSendMessage_RetryableFailure(t *testing.T) {
	f := newFixture(t)
	f.contact(t, "c1", "5511999")
	f.ticket(t, "tk1", "c1", domain.TicketStatusOpen, strPtr("u1"), f.createdAt)
	f.message(t, "m1", "tk1", domain.MessageStatusPending)
	f.sender.fail["5511999"] = errors.New("timeout")

	_, err := f.worker.sendMessage(context.Background(),
		newJob(t, queue.SendMessagePayload{TenantID: "t1", MessageID: "m1"}, 1, 3))
	require.Error(t, err)
	assert.False(t, queue.IsPermanent(err))
	assert.Equal(t, domain.MessageStatusPending, f.scalar(t, `SELECT status FROM messages WHERE id = ?`, "m1"))
	assert.Empty(t, f.events.events)
}

func TestSendMessage_FinalFailureNotifiesAssignee(t *testing.T) {
	f := newFixture(t)
	f.contact(t, "c1", "5511999")
	f.ticket(t, "tk1", "c1", domain.TicketStatusOpen, strPtr("u1"), f.createdAt)
	f.message(t, "m1", "tk1", domain.MessageStatusPending)
	f.sender.fail["5511999"] = errors.New("recipient blocked")

	_, err := f.worker.sendMessage(context.Background(),
		newJob(t, queue.SendMessagePayload{TenantID: "t1", MessageID: "m1"}, 3, 3))
	require.Error(t, err)
	assert.True(t, queue.IsPermanent(err))

	assert.Equal(t, domain.MessageStatusFailed, f.scalar(t, `SELECT status FROM messages WHERE id = ?`, "m1"))
	assert.Equal(t, "u1", f.scalar(t, `SELECT user_id FROM notifications WHERE tenant_id = ?`, "t1"))

	require.Len(t, f.events.events, 1)
	event := f.events.events[0]
	assert.Equal(t, realtime.EventNotificationCreated, event.Name)
	assert.Equal(t, "t1", event.TenantID)
	assert.Equal(t, "u1", event.UserID)
	assert.Contains(t, string(event.Data), "recipient blocked")
}

func TestSendMessage_Skips(t *testing.T) {
	tests := []struct {
		name      string
		payload   any
		permanent bool
		errIs     error
	}{
		{name: "already sent", payload: queue.SendMessagePayload{TenantID: "t1", MessageID: "sent"}},
		{name: "unknown message", payload: queue.SendMessagePayload{TenantID: "t1", MessageID: "nope"}, permanent: true, errIs: domain.ErrMessageNotFound},
		{name: "other tenant", payload: queue.SendMessagePayload{TenantID: "t2", MessageID: "sent"}, permanent: true, errIs: domain.ErrMessageNotFound},
		{name: "bad payload", payload: "not an object", permanent: true, errIs: domain.ErrInvalidPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.contact(t, "c1", "5511999")
			f.ticket(t, "tk1", "c1", domain.TicketStatusOpen, nil, f.createdAt)
			f.message(t, "sent", "tk1", domain.MessageStatusSent)

			_, err := f.worker.sendMessage(context.Background(), newJob(t, tt.payload, 1, 3))
			if tt.errIs == nil {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, tt.errIs)
				assert.Equal(t, tt.permanent, queue.IsPermanent(err))
			}
			assert.Empty(t, f.sender.sent)
		})
	}
}

func seedCampaign(t *testing.T, f *fixture, recipients int) {
	f.exec(t, `INSERT INTO campaigns (id, tenant_id, name, message, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		"cp1", "t1", "Promo", "Big sale", domain.CampaignStatusDraft, f.createdAt, f.createdAt)
	for i := 0; i < recipients; i++ {
		id := string(rune('a' + i))
		f.contact(t, "c"+id, "55"+id)
		f.exec(t, `INSERT INTO campaign_contacts (id, campaign_id, contact_id, status) VALUES (?, ?, ?, ?)`,
			"r"+id, "cp1", "c"+id, domain.RecipientStatusPending)
	}
}

func TestExecuteCampaign_EnqueuesBatches(t *testing.T) {
	f := newFixture(t)
	seedCampaign(t, f, 5)

	result, err := f.worker.executeCampaign(context.Background(),
		newJob(t, queue.CampaignPayload{TenantID: "t1", CampaignID: "cp1"}, 1, 3))
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"batches": 3}, result)

	require.Len(t, f.enqueuer.jobs, 3)
	for _, j := range f.enqueuer.jobs {
		assert.Equal(t, queue.BulkDispatch, j.queue)
		assert.Equal(t, queue.JobDispatchBatch, j.name)
	}
	assert.Equal(t, []string{"ra", "rb"}, f.enqueuer.jobs[0].data.(queue.BulkDispatchPayload).RecipientIDs)
	assert.Equal(t, []string{"re"}, f.enqueuer.jobs[2].data.(queue.BulkDispatchPayload).RecipientIDs)
	assert.Equal(t, domain.CampaignStatusRunning, f.scalar(t, `SELECT status FROM campaigns WHERE id = ?`, "cp1"))
}

func TestExecuteCampaign_NoRecipientsCompletes(t *testing.T) {
	f := newFixture(t)
	seedCampaign(t, f, 0)

	_, err := f.worker.executeCampaign(context.Background(),
		newJob(t, queue.CampaignPayload{TenantID: "t1", CampaignID: "cp1"}, 1, 3))
	require.NoError(t, err)
	assert.Empty(t, f.enqueuer.jobs)
	assert.Equal(t, domain.CampaignStatusCompleted, f.scalar(t, `SELECT status FROM campaigns WHERE id = ?`, "cp1"))
}

func TestExecuteCampaign_EnqueueFailure(t *testing.T) {
	f := newFixture(t)
	seedCampaign(t, f, 1)
	f.enqueuer.err = errors.New("broker down")

	_, err := f.worker.executeCampaign(context.Background(),
		newJob(t, queue.CampaignPayload{TenantID: "t1", CampaignID: "cp1"}, 1, 3))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
	assert.False(t, queue.IsPermanent(err))
}

func TestBulkDispatch(t *testing.T) {
	f := newFixture(t)
	seedCampaign(t, f, 3)
	f.sender.fail["55b"] = errors.New("invalid number")

	result, err := f.worker.bulkDispatch(context.Background(), newJob(t, queue.BulkDispatchPayload{
		TenantID: "t1", CampaignID: "cp1", RecipientIDs: []string{"ra", "rb"},
	}, 1, 3))
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"sent": 1, "failed": 1}, result)

	assert.Equal(t, domain.RecipientStatusSent, f.scalar(t, `SELECT status FROM campaign_contacts WHERE id = ?`, "ra"))
	assert.Equal(t, "invalid number", f.scalar(t, `SELECT error FROM campaign_contacts WHERE id = ?`, "rb"))
	assert.Equal(t, domain.CampaignStatusDraft, f.scalar(t, `SELECT status FROM campaigns WHERE id = ?`, "cp1"))

	// the last batch completes the campaign; a repeated batch sends nothing new
	_, err = f.worker.bulkDispatch(context.Background(), newJob(t, queue.BulkDispatchPayload{
		TenantID: "t1", CampaignID: "cp1", RecipientIDs: []string{"rc", "ra"},
	}, 1, 3))
	require.NoError(t, err)
	assert.Len(t, f.sender.sent, 2)
	assert.Equal(t, "Big sale", f.sender.sent[1].Body)
	assert.Equal(t, domain.CampaignStatusCompleted, f.scalar(t, `SELECT status FROM campaigns WHERE id = ?`, "cp1"))
}

func TestCleanupTickets(t *testing.T) {
	f := newFixture(t)
	f.contact(t, "c1", "5511999")
	stale := f.createdAt
	fresh := f.createdAt.Add(47 * time.Hour)
	f.ticket(t, "old-open", "c1", domain.TicketStatusOpen, nil, stale)
	f.ticket(t, "old-pending", "c1", domain.TicketStatusPending, nil, stale)
	f.ticket(t, "old-closed", "c1", domain.TicketStatusClosed, nil, stale)
	f.ticket(t, "recent", "c1", domain.TicketStatusOpen, nil, fresh)

	result, err := f.worker.cleanupTickets(context.Background(), &queue.Job{ID: "j1"})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"closed": 2}, result)

	assert.Equal(t, domain.TicketStatusClosed, f.scalar(t, `SELECT status FROM tickets WHERE id = ?`, "old-open"))
	assert.Equal(t, domain.TicketStatusClosed, f.scalar(t, `SELECT status FROM tickets WHERE id = ?`, "old-pending"))
	assert.Equal(t, domain.TicketStatusOpen, f.scalar(t, `SELECT status FROM tickets WHERE id = ?`, "recent"))

	require.Len(t, f.events.events, 2)
	for _, e := range f.events.events {
		assert.Equal(t, realtime.EventTicketUpdated, e.Name)
		assert.Contains(t, string(e.Data), `"status":"closed"`)
	}

	// nothing left to close on a second run
	result, err = f.worker.cleanupTickets(context.Background(), &queue.Job{ID: "j2"})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"closed": 0}, result)
}

func TestProcessors_CoverRegistry(t *testing.T) {
	f := newFixture(t)
	for _, d := range queue.Registry(f.worker.Processors()) {
		assert.NotNil(t, d.Processor, d.Name)
	}
}
