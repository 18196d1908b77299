// Package realtime pushes presence and check-in events to websocket clients.
package realtime

import (
	"encoding/json"
	"time"

	"brewery-presence-backend/internal/apperr"
	"brewery-presence-backend/internal/model"
)

// Inbound commands.
const (
	EventPresenceUpdate    = "presence:update"
	EventPresenceHeartbeat = "presence:heartbeat"
	EventBreweryWatch      = "brewery:watch"
	EventBreweryUnwatch    = "brewery:unwatch"
	EventCheckInCreate     = "checkin:create"
	EventCheckInCheckout   = "checkin:checkout"
)

// Outbound events.
const (
	EventPresenceUpdated        = "presence:updated"
	EventPresenceOffline        = "presence:offline"
	EventBreweryPresenceList    = "brewery:presence:list"
	EventCheckInCreateSuccess   = "checkin:create:success"
	EventCheckInCreateError     = "checkin:create:error"
	EventCheckInCheckoutSuccess = "checkin:checkout:success"
	EventCheckInCheckoutError   = "checkin:checkout:error"
	EventError                  = "error"
)

// Envelope frames every message in both directions.
type Envelope struct {
	Event     string          `json:"event"`
	RequestID string          `json:"requestId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// ErrorPayload is the data of every *:error event.
type ErrorPayload struct {
	Kind      apperr.Kind `json:"kind"`
	Message   string      `json:"message"`
	RequestID string      `json:"requestId,omitempty"`
}

// BreweryPresenceList is the personalised roster of one brewery.
type BreweryPresenceList struct {
	BreweryID string               `json:"breweryId"`
	Users     []model.PresenceView `json:"users"`
}

// PresenceOffline announces that a user went offline.
type PresenceOffline struct {
	UserID    string    `json:"userId"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type presenceUpdatePayload struct {
	Status        *string         `json:"status"`
	Location      *model.GeoPoint `json:"location"`
	ClearLocation bool            `json:"clearLocation"`
	BreweryID     *string         `json:"breweryId"`
	Visibility    *string         `json:"visibility"`
}

type breweryPayload struct {
	BreweryID string `json:"breweryId"`
}

type checkInCreatePayload struct {
	BreweryID string `json:"breweryId"`
	Privacy   string `json:"privacy"`
	Comment   string `json:"comment"`
	PhotoRef  string `json:"photoRef"`
	RouteID   string `json:"routeId"`
}

type checkInCheckoutPayload struct {
	CheckInID string `json:"checkinId"`
}

func encode(event, requestID string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, RequestID: requestID, Data: raw})
}

func errorPayload(err error, requestID string) ErrorPayload {
	return ErrorPayload{Kind: apperr.KindOf(err), Message: apperr.Message(err), RequestID: requestID}
}
