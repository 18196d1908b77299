// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"brewery-presence-backend/internal/db"
	"brewery-presence-backend/internal/model"
)

// NewSQLiteDB opens a private in-memory database with all tables migrated.
// The pool is capped at one connection so the memory database is shared by
// every query of the test.
func NewSQLiteDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	gormDB, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := gormDB.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.Migrate(gormDB))
	return gormDB
}

// SeedBreweries inserts catalog rows with the given ids.
func SeedBreweries(t *testing.T, gormDB *gorm.DB, ids ...string) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, gormDB.Create(&model.Brewery{ID: id, Name: "Brewery " + id, Address: id + " Main St"}).Error)
	}
}

// SeedFriendEdge inserts or replaces a directed friend edge.
func SeedFriendEdge(t *testing.T, gormDB *gorm.DB, userID, friendID string, status model.FriendStatus) {
	t.Helper()
	require.NoError(t, gormDB.Save(&model.FriendEdge{UserID: userID, FriendID: friendID, Status: status}).Error)
}
