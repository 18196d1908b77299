package model

import (
	"time"

	"brewery-presence-backend/internal/visibility"
)

// PresenceStatus is a user's connection state.
type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "online"
	StatusAway    PresenceStatus = "away"
	StatusOffline PresenceStatus = "offline"
)

// Valid reports whether s is a known status.
func (s PresenceStatus) Valid() bool {
	return s == StatusOnline || s == StatusAway || s == StatusOffline
}

// GeoPoint is a WGS84 coordinate pair.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Valid reports whether the point lies within coordinate bounds.
func (p GeoPoint) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lon >= -180 && p.Lon <= 180
}

// PresenceRecord is the single current presence entry of a user.
type PresenceRecord struct {
	UserID     string          `gorm:"primaryKey;size:64" json:"userId"`
	Status     PresenceStatus  `gorm:"size:16;not null;index" json:"status"`
	Latitude   *float64        `json:"-"`
	Longitude  *float64        `json:"-"`
	BreweryID  *string         `gorm:"size:64;index" json:"breweryId"`
	Visibility visibility.Tier `gorm:"size:16;not null" json:"visibility"`
	UpdatedAt  time.Time       `gorm:"not null;index;autoUpdateTime:false" json:"updatedAt"`
}

// Location returns the stored coordinates, or nil when none are set.
func (r PresenceRecord) Location() *GeoPoint {
	if r.Latitude == nil || r.Longitude == nil {
		return nil
	}
	return &GeoPoint{Lat: *r.Latitude, Lon: *r.Longitude}
}

// SetLocation stores p, or clears the coordinates when p is nil.
func (r *PresenceRecord) SetLocation(p *GeoPoint) {
	if p == nil {
		r.Latitude, r.Longitude = nil, nil
		return
	}
	lat, lon := p.Lat, p.Lon
	r.Latitude, r.Longitude = &lat, &lon
}

// Brewery returns the pinned brewery id or "".
func (r PresenceRecord) Brewery() string {
	if r.BreweryID == nil {
		return ""
	}
	return *r.BreweryID
}

// PresenceView is the wire shape of a presence record.
type PresenceView struct {
	UserID     string          `json:"userId"`
	Status     PresenceStatus  `json:"status"`
	Location   *GeoPoint       `json:"location,omitempty"`
	BreweryID  *string         `json:"breweryId"`
	Visibility visibility.Tier `json:"visibility"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

// View converts the record to its wire shape.
func (r PresenceRecord) View() PresenceView {
	return PresenceView{
		UserID:     r.UserID,
		Status:     r.Status,
		Location:   r.Location(),
		BreweryID:  r.BreweryID,
		Visibility: r.Visibility,
		UpdatedAt:  r.UpdatedAt,
	}
}
