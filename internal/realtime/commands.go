package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"time"

	"brewery-presence-backend/internal/apperr"
	"brewery-presence-backend/internal/checkin"
	"brewery-presence-backend/internal/model"
	"brewery-presence-backend/internal/presence"
	"brewery-presence-backend/internal/visibility"
)

// PresenceCommands is the presence service as used by connections.
type PresenceCommands interface {
	Get(ctx context.Context, userID string) (*model.PresenceRecord, error)
	Upsert(ctx context.Context, userID string, u presence.Update) (*model.PresenceRecord, error)
	Heartbeat(ctx context.Context, userID string) (*model.PresenceRecord, error)
	GoOffline(ctx context.Context, userID string, keep func() bool) (bool, error)
}

// CheckInCommands is the ledger as used by connections.
type CheckInCommands interface {
	Create(ctx context.Context, userID string, req checkin.CreateRequest) (*model.CheckIn, error)
	Checkout(ctx context.Context, userID, checkInID string) (*model.CheckIn, error)
}

// Commands executes inbound client messages. Results and failures go back to
// the originating connection only.
type Commands struct {
	registry    *Registry
	broadcaster *Broadcaster
	presence    PresenceCommands
	checkIns    CheckInCommands
	timeout     time.Duration
}

// NewCommands creates a dispatcher whose commands time out after timeout.
func NewCommands(registry *Registry, broadcaster *Broadcaster, p PresenceCommands, c CheckInCommands, timeout time.Duration) *Commands {
	return &Commands{
		registry:    registry,
		broadcaster: broadcaster,
		presence:    p,
		checkIns:    c,
		timeout:     timeout,
	}
}

func errorEventFor(event string) string {
	switch event {
	case EventCheckInCreate:
		return EventCheckInCreateError
	case EventCheckInCheckout:
		return EventCheckInCheckoutError
	}
	return EventError
}

// Handle runs one raw message sent by c.
func (h *Commands) Handle(ctx context.Context, c *Client, raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		h.fail(c, EventError, "", apperr.Validation("malformed message"))
		return
	}
	if !c.allow() {
		h.fail(c, errorEventFor(env.Event), env.RequestID, apperr.RateLimited("too many commands"))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	var err error
	switch env.Event {
	case EventPresenceUpdate:
		err = h.presenceUpdate(ctx, c, env)
	case EventPresenceHeartbeat:
		_, err = h.presence.Heartbeat(ctx, c.UserID)
	case EventBreweryWatch:
		err = h.watch(ctx, c, env)
	case EventBreweryUnwatch:
		err = h.unwatch(c, env)
	case EventCheckInCreate:
		err = h.checkInCreate(ctx, c, env)
	case EventCheckInCheckout:
		err = h.checkInCheckout(ctx, c, env)
	default:
		err = apperr.Validation("unknown event %q", env.Event)
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			log.Printf("Command %s of connection %s timed out", env.Event, c.ID)
		} else if apperr.KindOf(err) == apperr.KindInternal {
			log.Printf("Command %s of connection %s failed: %v", env.Event, c.ID, err)
		}
		h.fail(c, errorEventFor(env.Event), env.RequestID, err)
	}
}

func decode(env Envelope, v any) error {
	if len(env.Data) == 0 {
		return apperr.Validation("%s requires data", env.Event)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return apperr.Validation("invalid %s data", env.Event)
	}
	return nil
}

func (h *Commands) presenceUpdate(ctx context.Context, c *Client, env Envelope) error {
	var p presenceUpdatePayload
	if err := decode(env, &p); err != nil {
		return err
	}
	u := presence.Update{
		Location:      p.Location,
		ClearLocation: p.ClearLocation,
		BreweryID:     p.BreweryID,
	}
	if p.Status != nil {
		s := model.PresenceStatus(strings.ToLower(*p.Status))
		u.Status = &s
	}
	if p.Visibility != nil {
		t, err := visibility.ParseTier(*p.Visibility)
		if err != nil {
			return apperr.Validation("%v", err)
		}
		u.Visibility = &t
	}
	_, err := h.presence.Upsert(ctx, c.UserID, u)
	return err
}

func (h *Commands) watch(ctx context.Context, c *Client, env Envelope) error {
	var p breweryPayload
	if err := decode(env, &p); err != nil {
		return err
	}
	if p.BreweryID == "" {
		return apperr.Validation("breweryId is required")
	}
	h.registry.Watch(c.ID, p.BreweryID)
	return h.broadcaster.SendSnapshot(ctx, c.ID, p.BreweryID)
}

func (h *Commands) unwatch(c *Client, env Envelope) error {
	var p breweryPayload
	if err := decode(env, &p); err != nil {
		return err
	}
	if h.registry.Unwatch(c.ID, p.BreweryID) {
		h.broadcaster.Forget(c.ID)
	}
	return nil
}

func (h *Commands) checkInCreate(ctx context.Context, c *Client, env Envelope) error {
	var p checkInCreatePayload
	if err := decode(env, &p); err != nil {
		return err
	}
	req := checkin.CreateRequest{
		BreweryID: p.BreweryID,
		Comment:   p.Comment,
		PhotoRef:  p.PhotoRef,
		RouteID:   p.RouteID,
	}
	if p.Privacy != "" {
		t, err := visibility.ParseTier(p.Privacy)
		if err != nil {
			return apperr.Validation("%v", err)
		}
		req.Privacy = t
	}
	created, err := h.checkIns.Create(ctx, c.UserID, req)
	if err != nil {
		return err
	}
	h.reply(c, EventCheckInCreateSuccess, env.RequestID, created)
	return nil
}

func (h *Commands) checkInCheckout(ctx context.Context, c *Client, env Envelope) error {
	var p checkInCheckoutPayload
	if err := decode(env, &p); err != nil {
		return err
	}
	done, err := h.checkIns.Checkout(ctx, c.UserID, p.CheckInID)
	if err != nil {
		return err
	}
	h.reply(c, EventCheckInCheckoutSuccess, env.RequestID, done)
	return nil
}

func (h *Commands) reply(c *Client, event, requestID string, data any) {
	msg, err := encode(event, requestID, data)
	if err != nil {
		log.Printf("Error encoding %s: %v", event, err)
		return
	}
	c.enqueue(msg)
}

func (h *Commands) fail(c *Client, event, requestID string, err error) {
	h.reply(c, event, requestID, errorPayload(err, requestID))
}
