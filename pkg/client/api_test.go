package client_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/zflow/zflow/internal/api/auth"
	"github.com/zflow/zflow/internal/api/handler"
	"github.com/zflow/zflow/internal/api/model"
	"github.com/zflow/zflow/internal/api/router"
	"github.com/zflow/zflow/internal/api/storage"
	"github.com/zflow/zflow/internal/queue"
	"github.com/zflow/zflow/internal/queue/brokers/memory"
	"github.com/zflow/zflow/internal/realtime"
	"github.com/zflow/zflow/pkg/client"
	"github.com/zflow/zflow/shared/database"
	"github.com/zflow/zflow/shared/logger"
)

type countingNavigator struct {
	calls atomic.Int32
}

func (n *countingNavigator) Navigate(string) { n.calls.Add(1) }

// apiFixture runs the real API on sqlite with one signed-in client
type apiFixture struct {
	db     *database.Client
	hub    *realtime.Hub
	client *client.Client
	store  *client.MemoryStorage
	nav    *countingNavigator
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := logger.NewDiscard().Logger
	db, err := database.NewSQLiteMemory(log)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := storage.NewStorage(db)
	authService := auth.NewService(store, auth.Config{
		AccessTTL:  time.Hour,
		RefreshTTL: 24 * time.Hour,
		BcryptCost: bcrypt.MinCost,
	}, log)

	manager := queue.NewManager(memory.NewBroker(10), log, queue.Registry(queue.Processors{}), queue.WithoutWorkers())
	require.NoError(t, manager.InitQueues(context.Background()))
	t.Cleanup(func() { manager.CloseQueues() })

	hub := realtime.NewHub(log, realtime.HubOptions{})
	t.Cleanup(hub.Close)

	r := router.SetupRouter(&handler.Dependencies{
		Logger:   log,
		DBClient: db,
		Storage:  store,
		Auth:     authService,
		Queues:   manager,
		Events:   realtime.NewLocalBus(hub.Deliver),
		Hub:      hub,
		Upload:   handler.UploadConfig{Dir: t.TempDir(), PublicURL: "/uploads", MaxSize: 1 << 10},
	}, router.Options{ServiceName: "zflow-api"})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	ctx := context.Background()
	created := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.CreateTenant(ctx, &model.Tenant{ID: "t1", Name: "Acme", CreatedAt: created}))
	hash, err := authService.HashPassword("secret")
	require.NoError(t, err)
	require.NoError(t, store.CreateUser(ctx, &model.User{
		ID: "u1", TenantID: "t1", Name: "Ana", Email: "ana@acme.test",
		PasswordHash: hash, Role: "agent", CreatedAt: created,
	}))

	f := &apiFixture{db: db, hub: hub, store: client.NewMemoryStorage(), nav: &countingNavigator{}}
	f.exec(t, `INSERT INTO contacts (id, tenant_id, name, phone, email, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		"c1", "t1", "Carla", "5511999", "", created)
	f.exec(t, `INSERT INTO tickets (id, tenant_id, contact_id, user_id, status, last_message, unread_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, "tk1", "t1", "c1", "u1", "open", "hello", 0, created, created)

	f.client, err = client.New(client.Config{
		BaseURL:        srv.URL + "/api",
		Storage:        f.store,
		Navigator:      f.nav,
		Logger:         log,
		ReconnectDelay: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(f.client.Close)

	_, err = f.client.Session.Login(ctx, "ana@acme.test", "secret")
	require.NoError(t, err)
	f.waitConnected(t)
	return f
}

func (f *apiFixture) exec(t *testing.T, query string, args ...any) {
	t.Helper()
	db := f.db.GetDB()
	_, err := db.Exec(db.Rebind(query), args...)
	require.NoError(t, err)
}

// expireAccessToken makes the server reject the current access token
func (f *apiFixture) expireAccessToken(t *testing.T) {
	t.Helper()
	f.exec(t, `UPDATE auth_sessions SET access_expires_at = ?`, time.Now().UTC().Add(-time.Minute))
}

func (f *apiFixture) waitConnected(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		conn := f.client.Channel.Get()
		return conn != nil && conn.Connected() && f.hub.Count("t1") == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func (f *apiFixture) deliver(t *testing.T, name string, data any) {
	t.Helper()
	event, err := realtime.NewEvent(name, "t1", data)
	require.NoError(t, err)
	f.hub.Deliver(event)
}

func TestConcurrentExpiryKeepsSession(t *testing.T) {
	f := newAPIFixture(t)
	f.expireAccessToken(t)

	const requests = 8
	errs := make([]error, requests)

	var wg sync.WaitGroup
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.client.ListTickets(context.Background(), client.TicketQuery{})
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "request %d", i)
	}
	assert.Equal(t, int32(0), f.nav.calls.Load())
	assert.Equal(t, client.StateAuthenticated, f.client.Session.State())

	refresh, ok, err := f.store.Get(client.KeyRefreshToken)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NotEmpty(t, refresh)

	// the stored pair is the live one
	_, err = f.client.ListTickets(context.Background(), client.TicketQuery{})
	assert.NoError(t, err)
}

func TestStoresFollowRefreshReconnect(t *testing.T) {
	f := newAPIFixture(t)

	stores := client.NewStores()
	unbind := client.BindStores(f.client.Channel, stores, logger.NewDiscard().Logger)
	defer unbind()

	before := f.client.Channel.Get()
	f.expireAccessToken(t)

	_, err := f.client.ListTickets(context.Background(), client.TicketQuery{})
	require.NoError(t, err)
	require.NotSame(t, before, f.client.Channel.Get())
	f.waitConnected(t)

	require.Eventually(t, func() bool {
		f.deliver(t, realtime.EventTicketUpdated, realtime.TicketUpdated{TicketID: "tk1", Status: "closed"})
		ticket, ok := stores.Tickets.Get("tk1")
		return ok && ticket.Status == "closed"
	}, 2*time.Second, 20*time.Millisecond)
}

func TestHandlerRefetchDuringRefresh(t *testing.T) {
	f := newAPIFixture(t)
	f.expireAccessToken(t)

	var started atomic.Bool
	result := make(chan error, 1)
	off := f.client.Channel.On(client.EventNotificationCreated, func(json.RawMessage) {
		if !started.CompareAndSwap(false, true) {
			return
		}
		list, err := f.client.ListNotifications(context.Background())
		if err == nil {
			f.client.Stores.Notifications.Replace(list.Notifications)
		}
		result <- err
	})
	defer off()

	require.Eventually(t, func() bool {
		f.deliver(t, client.EventNotificationCreated, map[string]string{"id": "n1"})
		return started.Load()
	}, 2*time.Second, 20*time.Millisecond)

	select {
	case err := <-result:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("refetch from an event handler never returned")
	}
	assert.Equal(t, client.StateAuthenticated, f.client.Session.State())

	closed := make(chan struct{})
	go func() {
		f.client.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("channel stuck after handler-driven reconnect")
	}
	assert.Nil(t, f.client.Channel.Get())
}
