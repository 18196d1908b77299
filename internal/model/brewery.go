package model

import "time"

// Brewery is a row of the brewery catalog.
type Brewery struct {
	ID        string `gorm:"primaryKey;size:64" json:"id"`
	Name      string `gorm:"size:256;not null" json:"name"`
	Address   string `gorm:"size:512" json:"address"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
