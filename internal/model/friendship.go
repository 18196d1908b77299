package model

import "time"

// FriendStatus is the state of a directed friend edge.
type FriendStatus string

const (
	FriendPending  FriendStatus = "pending"
	FriendAccepted FriendStatus = "accepted"
	FriendBlocked  FriendStatus = "blocked"
)

// FriendEdge is owned by the friend-graph collaborator; this service only reads it.
type FriendEdge struct {
	UserID    string       `gorm:"primaryKey;size:64"`
	FriendID  string       `gorm:"primaryKey;size:64;index"`
	Status    FriendStatus `gorm:"size:16;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
