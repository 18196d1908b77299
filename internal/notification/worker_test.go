package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/SherClockHolmes/webpush-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"brewery-presence-backend/internal/model"
	"brewery-presence-backend/internal/store"
	"brewery-presence-backend/internal/testutil"
	"brewery-presence-backend/internal/visibility"
)

// mockSender is a mock implementation of the NotificationSender interface.
type mockSender struct {
	mu   sync.Mutex
	sent []string
	code int
}

func (m *mockSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	m.mu.Lock()
	m.sent = append(m.sent, sub.Endpoint)
	m.mu.Unlock()
	code := m.code
	if code == 0 {
		code = http.StatusCreated
	}
	return &http.Response{StatusCode: code, Body: io.NopCloser(bytes.NewBufferString(""))}, nil
}

func (m *mockSender) endpoints() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.sent...)
}

func seedCheckIn(t *testing.T, st store.Store, id, userID string, tier visibility.Tier) {
	t.Helper()
	_, err := st.StartCheckIn(context.Background(), &model.CheckIn{
		ID: id, UserID: userID, BreweryID: "b1", BreweryName: "Brewery b1",
		Status: model.CheckInActive, Privacy: visibility.Privacy(tier), CheckinTime: time.Now().UTC(),
	})
	require.NoError(t, err)
}

func newFixture(t *testing.T) (*WorkerPool, store.Store, *mockSender) {
	t.Helper()
	gormDB := testutil.NewSQLiteDB(t)
	testutil.SeedFriendEdge(t, gormDB, "alice", "bob", model.FriendAccepted)
	testutil.SeedFriendEdge(t, gormDB, "carol", "alice", model.FriendAccepted)
	testutil.SeedFriendEdge(t, gormDB, "alice", "dave", model.FriendPending)
	st := store.NewGormStore(gormDB)
	ctx := context.Background()
	for _, sub := range []model.PushSubscription{
		{Endpoint: "https://push.example/bob", UserID: "bob", P256DH: "k", Auth: "a"},
		{Endpoint: "https://push.example/carol", UserID: "carol", P256DH: "k", Auth: "a"},
		{Endpoint: "https://push.example/dave", UserID: "dave", P256DH: "k", Auth: "a"},
	} {
		sub := sub
		require.NoError(t, st.SavePushSubscription(ctx, &sub))
	}

	sender := &mockSender{}
	wp := NewWorkerPool(1, st, &webpush.Options{})
	wp.sender = sender
	return wp, st, sender
}

func TestWorkerPool_Dispatch(t *testing.T) {
	wp := NewWorkerPool(1, nil, &webpush.Options{})

	wp.Dispatch("c-123")

	select {
	case job := <-wp.jobs:
		assert.Equal(t, "c-123", job)
	case <-time.After(1 * time.Second):
		t.Fatal("timed out waiting for job to be dispatched")
	}
}

func TestWorkerPool_DispatchDropsWhenFull(t *testing.T) {
	wp := NewWorkerPool(1, nil, &webpush.Options{})
	for i := 0; i < cap(wp.jobs)+5; i++ {
		wp.Dispatch("c")
	}
	assert.Len(t, wp.jobs, cap(wp.jobs))
}

func TestNotifyFriends_SendsToAcceptedFriends(t *testing.T) {
	wp, st, sender := newFixture(t)
	seedCheckIn(t, st, "c1", "alice", visibility.Friends)

	wp.notifyFriends(context.Background(), "c1")

	assert.ElementsMatch(t, []string{"https://push.example/bob", "https://push.example/carol"}, sender.endpoints())
}

func TestNotifyFriends_PayloadNamesBrewery(t *testing.T) {
	wp, st, _ := newFixture(t)
	seedCheckIn(t, st, "c1", "alice", visibility.Everyone)

	var got Payload
	var once sync.Once
	wp.sender = senderFunc(func(payload []byte, _ *webpush.Subscription) {
		once.Do(func() { require.NoError(t, json.Unmarshal(payload, &got)) })
	})
	wp.notifyFriends(context.Background(), "c1")

	assert.Equal(t, "c1", got.CheckInID)
	assert.Equal(t, "alice checked in at Brewery b1", got.Body)
}

func TestNotifyFriends_PrivateCheckInIsSilent(t *testing.T) {
	wp, st, sender := newFixture(t)
	seedCheckIn(t, st, "c1", "alice", visibility.Nobody)

	wp.notifyFriends(context.Background(), "c1")
	assert.Empty(t, sender.endpoints())
}

func TestNotifyFriends_DeletesExpiredSubscription(t *testing.T) {
	wp, st, sender := newFixture(t)
	sender.code = http.StatusGone
	seedCheckIn(t, st, "c1", "alice", visibility.Everyone)

	wp.notifyFriends(context.Background(), "c1")

	subs, err := st.ListPushSubscriptions(context.Background(), []string{"bob", "carol", "dave"})
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "dave", subs[0].UserID)
}

func TestWorkerPool_WorkerLogic(t *testing.T) {
	wp, st, sender := newFixture(t)
	seedCheckIn(t, st, "c1", "alice", visibility.Everyone)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wp.Start(ctx)

	wp.Dispatch("c1")
	assert.Eventually(t, func() bool { return len(sender.endpoints()) == 2 }, time.Second, 10*time.Millisecond)
}

// A helper function to create a mock database connection.
func newTestDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: db,
	}), &gorm.Config{})
	require.NoError(t, err)

	return gormDB, mock
}

func TestNotifyFriends_CheckInLookupFails(t *testing.T) {
	gormDB, mock := newTestDB(t)
	sender := &mockSender{}
	wp := NewWorkerPool(1, store.NewGormStore(gormDB), &webpush.Options{})
	wp.sender = sender

	mock.ExpectQuery(`SELECT \* FROM "check_ins" WHERE id = \$1`).
		WillReturnError(errors.New("connection refused"))

	wp.notifyFriends(context.Background(), "c1")

	assert.Empty(t, sender.endpoints())
	assert.NoError(t, mock.ExpectationsWereMet())
}

type senderFunc func(payload []byte, sub *webpush.Subscription)

func (f senderFunc) Send(payload []byte, sub *webpush.Subscription, _ *webpush.Options) (*http.Response, error) {
	f(payload, sub)
	return &http.Response{StatusCode: http.StatusCreated, Body: io.NopCloser(bytes.NewBufferString(""))}, nil
}
