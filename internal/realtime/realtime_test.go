package realtime

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"brewery-presence-backend/internal/apperr"
	"brewery-presence-backend/internal/catalog"
	"brewery-presence-backend/internal/checkin"
	"brewery-presence-backend/internal/model"
	"brewery-presence-backend/internal/presence"
	"brewery-presence-backend/internal/roster"
	"brewery-presence-backend/internal/store"
	"brewery-presence-backend/internal/testutil"
	"brewery-presence-backend/internal/visibility"
)

type stack struct {
	hub         *Hub
	registry    *Registry
	broadcaster *Broadcaster
	presence    *presence.Service
	ledger      *checkin.Ledger
	commands    *Commands
	store       store.Store
}

// newStack wires the realtime layer over sqlite. alice and bob are friends,
// alice has a pending request to dave and erin has blocked alice.
func newStack(t *testing.T) *stack {
	t.Helper()
	gormDB := testutil.NewSQLiteDB(t)
	testutil.SeedBreweries(t, gormDB, "b1", "b2")
	testutil.SeedFriendEdge(t, gormDB, "alice", "bob", model.FriendAccepted)
	testutil.SeedFriendEdge(t, gormDB, "alice", "dave", model.FriendPending)
	testutil.SeedFriendEdge(t, gormDB, "erin", "alice", model.FriendBlocked)

	st := store.NewGormStore(gormDB)
	hub := NewHub()
	reg := NewRegistry()
	rs := roster.New(st, st, st, visibility.NewCachedGraph(st, time.Minute))
	b := NewBroadcaster(hub, reg, rs, st)
	svc := presence.NewService(st, b)
	ledger := checkin.NewLedger(st, catalog.New(st, time.Minute), svc, nil)

	return &stack{
		hub:         hub,
		registry:    reg,
		broadcaster: b,
		presence:    svc,
		ledger:      ledger,
		commands:    NewCommands(reg, b, svc, ledger, 5*time.Second),
		store:       st,
	}
}

func (s *stack) connect(userID string) *Client {
	c := NewClient(userID, 64, nil)
	s.hub.Register(c)
	return c
}

func (s *stack) send(t *testing.T, c *Client, event, requestID string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	msg, err := json.Marshal(Envelope{Event: event, RequestID: requestID, Data: raw})
	require.NoError(t, err)
	s.commands.Handle(context.Background(), c, msg)
}

func (s *stack) pin(t *testing.T, userID, breweryID string, tier visibility.Tier) {
	t.Helper()
	online := model.StatusOnline
	_, err := s.presence.Upsert(context.Background(), userID, presence.Update{
		Status: &online, BreweryID: &breweryID, Visibility: &tier,
	})
	require.NoError(t, err)
}

func drain(c *Client) []Envelope {
	var out []Envelope
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return out
			}
			var env Envelope
			if err := json.Unmarshal(msg, &env); err == nil {
				out = append(out, env)
			}
		default:
			return out
		}
	}
}

func eventNames(envs []Envelope) []string {
	out := make([]string, len(envs))
	for i, e := range envs {
		out[i] = e.Event
	}
	return out
}

func find(t *testing.T, envs []Envelope, event string) Envelope {
	t.Helper()
	for i := len(envs) - 1; i >= 0; i-- {
		if envs[i].Event == event {
			return envs[i]
		}
	}
	t.Fatalf("no %s event in %v", event, eventNames(envs))
	return Envelope{}
}

func rosterUsers(t *testing.T, env Envelope) []string {
	t.Helper()
	var list BreweryPresenceList
	require.NoError(t, json.Unmarshal(env.Data, &list))
	out := make([]string, 0, len(list.Users))
	for _, u := range list.Users {
		out = append(out, u.UserID)
	}
	return out
}

func TestWatch_SendsSnapshotEvenWhenEmpty(t *testing.T) {
	s := newStack(t)
	bob := s.connect("bob")

	s.send(t, bob, EventBreweryWatch, "r1", map[string]string{"breweryId": "b1"})

	envs := drain(bob)
	require.Equal(t, []string{EventBreweryPresenceList}, eventNames(envs))
	assert.JSONEq(t, `{"breweryId":"b1","users":[]}`, string(envs[0].Data))
	assert.Equal(t, []string{bob.ID}, s.registry.SubscribersOf("b1"))
}

func TestPresenceChange_FiltersPerWatcher(t *testing.T) {
	s := newStack(t)
	alice := s.connect("alice")
	bob := s.connect("bob")
	dave := s.connect("dave")
	erin := s.connect("erin")
	for _, c := range []*Client{bob, dave, erin} {
		s.send(t, c, EventBreweryWatch, "", map[string]string{"breweryId": "b1"})
		drain(c)
	}

	s.pin(t, "alice", "b1", visibility.Friends)

	bobEnvs := drain(bob)
	assert.Equal(t, []string{"alice"}, rosterUsers(t, find(t, bobEnvs, EventBreweryPresenceList)))
	find(t, bobEnvs, EventPresenceUpdated)

	assert.Empty(t, drain(dave), "pending friend sees no change")
	assert.Empty(t, drain(erin), "blocked user sees no change")

	aliceEnvs := drain(alice)
	assert.Equal(t, []string{EventPresenceUpdated}, eventNames(aliceEnvs))
}

func TestRefreshBrewery_SkipsUnchangedRoster(t *testing.T) {
	s := newStack(t)
	bob := s.connect("bob")
	s.send(t, bob, EventBreweryWatch, "", map[string]string{"breweryId": "b1"})
	s.pin(t, "carol", "b1", visibility.Everyone)
	drain(bob)

	require.NoError(t, s.broadcaster.RefreshBrewery(context.Background(), "b1"))
	assert.Empty(t, drain(bob))
}

func TestCheckInCreate_PrivateStaysWithOriginator(t *testing.T) {
	s := newStack(t)
	alice := s.connect("alice")
	bob := s.connect("bob")
	carol := s.connect("carol")
	for _, c := range []*Client{bob, carol} {
		s.send(t, c, EventBreweryWatch, "", map[string]string{"breweryId": "b1"})
		drain(c)
	}

	s.send(t, alice, EventCheckInCreate, "req-7", map[string]string{"breweryId": "b1", "privacy": "private"})

	aliceEnvs := drain(alice)
	success := find(t, aliceEnvs, EventCheckInCreateSuccess)
	assert.Equal(t, "req-7", success.RequestID)
	var created model.CheckIn
	require.NoError(t, json.Unmarshal(success.Data, &created))
	assert.Equal(t, "b1", created.BreweryID)
	assert.Equal(t, visibility.Nobody, created.Tier())

	for _, c := range []*Client{bob, carol} {
		for _, env := range drain(c) {
			if env.Event == EventBreweryPresenceList {
				assert.NotContains(t, rosterUsers(t, env), "alice")
			}
			if env.Event == EventPresenceUpdated {
				var view model.PresenceView
				require.NoError(t, json.Unmarshal(env.Data, &view))
				assert.Nil(t, view.BreweryID, "friends do not learn a privately checked-in brewery")
			}
		}
	}
}

// lastRoster returns the users of the newest roster push for breweryID, or
// prev when none arrived.
func lastRoster(t *testing.T, envs []Envelope, breweryID string, prev []string) []string {
	t.Helper()
	out := prev
	for _, env := range envs {
		if env.Event != EventBreweryPresenceList {
			continue
		}
		var list BreweryPresenceList
		require.NoError(t, json.Unmarshal(env.Data, &list))
		if list.BreweryID != breweryID {
			continue
		}
		out = rosterUsers(t, env)
	}
	return out
}

func TestCheckInPrivacy_AcrossBreweries(t *testing.T) {
	s := newStack(t)
	alice := s.connect("alice")
	bob := s.connect("bob")
	carol := s.connect("carol")
	watchers := map[string]*Client{"alice": alice, "bob": bob, "carol": carol}
	seen := map[string][]string{}

	watchAll := func(breweryID string) {
		for name, c := range watchers {
			s.send(t, c, EventBreweryWatch, "", map[string]string{"breweryId": breweryID})
			seen[name] = lastRoster(t, drain(c), breweryID, nil)
		}
	}

	steps := []struct {
		name      string
		breweryID string
		privacy   string
		want      map[string][]string
	}{
		{
			name: "public check-in is seen by everyone", breweryID: "b1", privacy: "public",
			want: map[string][]string{"alice": {"alice"}, "bob": {"alice"}, "carol": {"alice"}},
		},
		{
			name: "private check-in elsewhere is seen only by its owner", breweryID: "b2", privacy: "private",
			want: map[string][]string{"alice": {"alice"}, "bob": {}, "carol": {}},
		},
	}
	for _, step := range steps {
		t.Run(step.name, func(t *testing.T) {
			watchAll(step.breweryID)
			s.send(t, alice, EventCheckInCreate, "", map[string]string{"breweryId": step.breweryID, "privacy": step.privacy})
			for name, c := range watchers {
				got := lastRoster(t, drain(c), step.breweryID, seen[name])
				assert.ElementsMatch(t, step.want[name], got, name)
			}
		})
	}

	rec, err := s.store.GetPresence(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "b2", rec.Brewery())
}

func TestRoster_FollowsFriendEdgeTransitions(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	bob := s.connect("bob")
	s.send(t, bob, EventBreweryWatch, "", map[string]string{"breweryId": "b1"})
	s.pin(t, "alice", "b1", visibility.Friends)
	seen := lastRoster(t, drain(bob), "b1", nil)
	require.Equal(t, []string{"alice"}, seen)

	testCases := []struct {
		status model.FriendStatus
		want   []string
	}{
		{model.FriendBlocked, []string{}},
		{model.FriendPending, []string{}},
	}
	for _, tc := range testCases {
		t.Run(string(tc.status), func(t *testing.T) {
			require.NoError(t, s.store.SaveFriendEdge(ctx, &model.FriendEdge{
				UserID: "alice", FriendID: "bob", Status: tc.status,
			}))
			require.NoError(t, s.broadcaster.RefreshBrewery(ctx, "b1"))
			seen = lastRoster(t, drain(bob), "b1", seen)
			assert.ElementsMatch(t, tc.want, seen)
		})
	}
}

func TestPush_SkipsBreweryNoLongerWatched(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	s.pin(t, "carol", "b1", visibility.Everyone)
	bob := s.connect("bob")

	s.send(t, bob, EventBreweryWatch, "", map[string]string{"breweryId": "b1"})
	entries, err := s.broadcaster.roster.Entries(ctx, "b1")
	require.NoError(t, err)
	s.send(t, bob, EventBreweryWatch, "", map[string]string{"breweryId": "b2"})
	drain(bob)

	// A refresh of b1 that read its subscribers before the switch.
	require.NoError(t, s.broadcaster.push(ctx, bob.ID, "b1", entries, false))
	assert.Empty(t, drain(bob))

	require.NoError(t, s.broadcaster.push(ctx, bob.ID, "b2", nil, true))
	assert.Equal(t, []string{EventBreweryPresenceList}, eventNames(drain(bob)))
}

func TestCheckInLifecycle_OverChannel(t *testing.T) {
	s := newStack(t)
	alice := s.connect("alice")
	carol := s.connect("carol")
	s.send(t, carol, EventBreweryWatch, "", map[string]string{"breweryId": "b1"})
	drain(carol)

	s.send(t, alice, EventCheckInCreate, "c", map[string]string{"breweryId": "b1"})
	var created model.CheckIn
	require.NoError(t, json.Unmarshal(find(t, drain(alice), EventCheckInCreateSuccess).Data, &created))
	assert.Equal(t, []string{"alice"}, rosterUsers(t, find(t, drain(carol), EventBreweryPresenceList)))

	s.send(t, alice, EventCheckInCheckout, "o", map[string]string{"checkinId": created.ID})
	done := find(t, drain(alice), EventCheckInCheckoutSuccess)
	assert.Equal(t, "o", done.RequestID)
	assert.Empty(t, rosterUsers(t, find(t, drain(carol), EventBreweryPresenceList)))

	s.send(t, alice, EventCheckInCheckout, "again", map[string]string{"checkinId": created.ID})
	failure := find(t, drain(alice), EventCheckInCheckoutError)
	var payload ErrorPayload
	require.NoError(t, json.Unmarshal(failure.Data, &payload))
	assert.Equal(t, apperr.KindInvalidState, payload.Kind)
	assert.Equal(t, "again", payload.RequestID)
	assert.Empty(t, drain(carol))
}

func TestErrors_GoOnlyToOriginator(t *testing.T) {
	s := newStack(t)
	alice := s.connect("alice")
	bob := s.connect("bob")

	s.send(t, alice, EventCheckInCreate, "x", map[string]string{"breweryId": "atlantis"})
	failure := find(t, drain(alice), EventCheckInCreateError)
	var payload ErrorPayload
	require.NoError(t, json.Unmarshal(failure.Data, &payload))
	assert.Equal(t, apperr.KindValidation, payload.Kind)
	assert.Empty(t, drain(bob))

	s.commands.Handle(context.Background(), alice, []byte("{not json"))
	assert.Equal(t, []string{EventError}, eventNames(drain(alice)))

	s.send(t, alice, "dance", "", map[string]string{})
	assert.Equal(t, []string{EventError}, eventNames(drain(alice)))

	s.send(t, alice, EventPresenceUpdate, "", map[string]string{"visibility": "secret"})
	assert.Equal(t, []string{EventError}, eventNames(drain(alice)))
}

func TestPresenceOffline_ToFriends(t *testing.T) {
	s := newStack(t)
	s.connect("alice")
	bob := s.connect("bob")
	dave := s.connect("dave")
	s.pin(t, "alice", "b1", visibility.Friends)
	drain(bob)
	drain(dave)

	offline := model.StatusOffline
	_, err := s.presence.Upsert(context.Background(), "alice", presence.Update{Status: &offline})
	require.NoError(t, err)

	env := find(t, drain(bob), EventPresenceOffline)
	var payload PresenceOffline
	require.NoError(t, json.Unmarshal(env.Data, &payload))
	assert.Equal(t, "alice", payload.UserID)
	assert.Empty(t, drain(dave))
}

func TestCommands_RateLimited(t *testing.T) {
	s := newStack(t)
	c := NewClient("alice", 16, rate.NewLimiter(0, 1))
	s.hub.Register(c)

	s.send(t, c, EventBreweryWatch, "", map[string]string{"breweryId": "b1"})
	s.send(t, c, EventBreweryWatch, "", map[string]string{"breweryId": "b1"})

	envs := drain(c)
	require.Len(t, envs, 2)
	var payload ErrorPayload
	require.NoError(t, json.Unmarshal(envs[1].Data, &payload))
	assert.Equal(t, apperr.KindRateLimited, payload.Kind)
}

func TestClosedClientIsSkipped(t *testing.T) {
	s := newStack(t)
	bob := s.connect("bob")
	s.send(t, bob, EventBreweryWatch, "", map[string]string{"breweryId": "b1"})
	drain(bob)

	s.hub.Unregister(bob.ID)
	s.pin(t, "carol", "b1", visibility.Everyone)

	assert.Empty(t, drain(bob))
}
