package checkin

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brewery-presence-backend/internal/apperr"
	"brewery-presence-backend/internal/catalog"
	"brewery-presence-backend/internal/model"
	"brewery-presence-backend/internal/presence"
	"brewery-presence-backend/internal/store"
	"brewery-presence-backend/internal/testutil"
	"brewery-presence-backend/internal/visibility"
)

type recordingDispatcher struct {
	mu  sync.Mutex
	ids []string
}

func (d *recordingDispatcher) Dispatch(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ids = append(d.ids, id)
}

type fixture struct {
	ledger     *Ledger
	store      store.Store
	presence   *presence.Service
	dispatcher *recordingDispatcher
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	gormDB := testutil.NewSQLiteDB(t)
	testutil.SeedBreweries(t, gormDB, "b1", "b2")
	st := store.NewGormStore(gormDB)
	svc := presence.NewService(st, nil)
	d := &recordingDispatcher{}
	return fixture{
		ledger:     NewLedger(st, catalog.New(st, time.Minute), svc, d),
		store:      st,
		presence:   svc,
		dispatcher: d,
	}
}

func TestCreate_PinsPresenceAndDispatches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c, err := f.ledger.Create(ctx, "u1", CreateRequest{BreweryID: "b1", Comment: "first pint"})
	require.NoError(t, err)
	assert.NotEmpty(t, c.ID)
	assert.Equal(t, model.CheckInActive, c.Status)
	assert.Equal(t, "Brewery b1", c.BreweryName)
	assert.Equal(t, visibility.Everyone, c.Tier())

	rec, err := f.presence.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusOnline, rec.Status)
	assert.Equal(t, "b1", rec.Brewery())

	assert.Equal(t, []string{c.ID}, f.dispatcher.ids)
}

func TestCreate_PrivateIsNotDispatched(t *testing.T) {
	f := newFixture(t)

	_, err := f.ledger.Create(context.Background(), "u1", CreateRequest{BreweryID: "b1", Privacy: visibility.Nobody})
	require.NoError(t, err)
	assert.Empty(t, f.dispatcher.ids)
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ledger.Create(ctx, "u1", CreateRequest{BreweryID: "nowhere"})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = f.ledger.Create(ctx, "u1", CreateRequest{BreweryID: " "})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = f.ledger.Create(ctx, "u1", CreateRequest{BreweryID: "b1", Privacy: "secret"})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = f.presence.Get(ctx, "u1")
	assert.ErrorIs(t, err, apperr.ErrNotFound, "failed creates leave presence untouched")
}

func TestCreate_AutoCancelsPreviousActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.ledger.Create(ctx, "u1", CreateRequest{BreweryID: "b1"})
	require.NoError(t, err)
	second, err := f.ledger.Create(ctx, "u1", CreateRequest{BreweryID: "b2"})
	require.NoError(t, err)

	active, err := f.ledger.List(ctx, Filter{UserID: "u1", Status: model.CheckInActive})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, second.ID, active[0].ID)

	old, err := f.store.GetCheckIn(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CheckInCancelled, old.Status)

	rec, err := f.presence.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "b2", rec.Brewery())
}

func TestCheckout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c, err := f.ledger.Create(ctx, "u1", CreateRequest{BreweryID: "b1"})
	require.NoError(t, err)

	_, err = f.ledger.Checkout(ctx, "u2", c.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound, "other users cannot check out")

	done, err := f.ledger.Checkout(ctx, "u1", c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CheckInCompleted, done.Status)
	require.NotNil(t, done.CheckoutTime)

	rec, err := f.presence.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, rec.BreweryID)
	assert.Equal(t, model.StatusOnline, rec.Status)

	_, err = f.ledger.Checkout(ctx, "u1", c.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidState)

	again, err := f.store.GetCheckIn(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, done.CheckoutTime.Unix(), again.CheckoutTime.Unix())

	_, err = f.ledger.Checkout(ctx, "u1", "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestCheckout_KeepsPinElsewhere(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c, err := f.ledger.Create(ctx, "u1", CreateRequest{BreweryID: "b1"})
	require.NoError(t, err)
	b2 := "b2"
	_, err = f.presence.Upsert(ctx, "u1", presence.Update{BreweryID: &b2})
	require.NoError(t, err)

	_, err = f.ledger.Checkout(ctx, "u1", c.ID)
	require.NoError(t, err)

	rec, err := f.presence.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "b2", rec.Brewery())
}

// lateWriter pins the user elsewhere right before the ledger clears the pin,
// the way a concurrent presence update would.
type lateWriter struct {
	*presence.Service
	to string
}

func (w lateWriter) Unpin(ctx context.Context, userID, breweryID string) (bool, error) {
	if _, err := w.Service.Upsert(ctx, userID, presence.Update{BreweryID: &w.to}); err != nil {
		return false, err
	}
	return w.Service.Unpin(ctx, userID, breweryID)
}

func TestCheckout_ConcurrentPinSurvives(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ledger := NewLedger(f.store, catalog.New(f.store, time.Minute), lateWriter{Service: f.presence, to: "b2"}, nil)

	c, err := ledger.Create(ctx, "u1", CreateRequest{BreweryID: "b1"})
	require.NoError(t, err)

	_, err = ledger.Checkout(ctx, "u1", c.ID)
	require.NoError(t, err)

	rec, err := f.presence.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "b2", rec.Brewery())
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c, err := f.ledger.Create(ctx, "u1", CreateRequest{BreweryID: "b1"})
	require.NoError(t, err)

	cancelled, err := f.ledger.Cancel(ctx, "u1", c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CheckInCancelled, cancelled.Status)

	_, err = f.ledger.Checkout(ctx, "u1", c.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidState)

	rec, err := f.presence.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, rec.BreweryID)
}

func TestConcurrentCreatesLeaveOneActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b := "b1"
			if i%2 == 1 {
				b = "b2"
			}
			_, err := f.ledger.Create(ctx, "u1", CreateRequest{BreweryID: b})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	active, err := f.ledger.List(ctx, Filter{UserID: "u1", Status: model.CheckInActive})
	require.NoError(t, err)
	assert.Len(t, active, 1)

	all, err := f.ledger.List(ctx, Filter{UserID: "u1"})
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestList_RejectsUnknownStatus(t *testing.T) {
	f := newFixture(t)
	_, err := f.ledger.List(context.Background(), Filter{Status: "paused"})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}
