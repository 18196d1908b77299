package model

import (
	"time"

	"brewery-presence-backend/internal/visibility"
)

// CheckInStatus is the lifecycle state of a check-in.
type CheckInStatus string

const (
	CheckInActive    CheckInStatus = "active"
	CheckInCompleted CheckInStatus = "completed"
	CheckInCancelled CheckInStatus = "cancelled"
)

// Valid reports whether s is a known status.
func (s CheckInStatus) Valid() bool {
	return s == CheckInActive || s == CheckInCompleted || s == CheckInCancelled
}

// Terminal reports whether no further transition is allowed.
func (s CheckInStatus) Terminal() bool {
	return s == CheckInCompleted || s == CheckInCancelled
}

// CheckIn is one visit of a user at a brewery.
type CheckIn struct {
	ID           string             `gorm:"primaryKey;size:36" json:"id"`
	UserID       string             `gorm:"size:64;not null;index:idx_check_ins_user_status,priority:1" json:"userId"`
	BreweryID    string             `gorm:"size:64;not null;index:idx_check_ins_brewery_status,priority:1" json:"breweryId"`
	BreweryName  string             `gorm:"size:256" json:"breweryName,omitempty"`
	Status       CheckInStatus      `gorm:"size:16;not null;index:idx_check_ins_user_status,priority:2;index:idx_check_ins_brewery_status,priority:2" json:"status"`
	Privacy      visibility.Privacy `gorm:"size:16;not null" json:"privacy"`
	CheckinTime  time.Time          `gorm:"not null;index" json:"checkinTime"`
	CheckoutTime *time.Time         `json:"checkoutTime,omitempty"`
	Comment      string             `gorm:"size:1024" json:"comment,omitempty"`
	PhotoRef     string             `gorm:"size:512" json:"photoRef,omitempty"`
	RouteID      string             `gorm:"size:64" json:"routeId,omitempty"`
}

// Tier returns the privacy as a visibility tier.
func (c CheckIn) Tier() visibility.Tier {
	return visibility.Tier(c.Privacy)
}
