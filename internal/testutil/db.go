// Package testutil holds helpers shared by package tests.
package testutil

import (
	"fmt"
	"sync/atomic"
	"testing"

	"mealmate/internal/infra/mysql"
	"mealmate/internal/repository"
	mysqlrepo "mealmate/internal/repository/mysql"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var dbSeq atomic.Int64

// NewDB opens a migrated in-memory SQLite database private to the test. The pool
// holds one connection, so concurrent transactions are serialized.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:mealmate_test_%d?mode=memory&cache=shared&_busy_timeout=5000", dbSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), mysql.GormConfig())
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, mysql.Migrate(db))
	return db
}

func NewStore(t *testing.T) repository.Store {
	return mysqlrepo.NewStore(NewDB(t))
}

func NewLogger(t *testing.T) *zap.Logger {
	return zaptest.NewLogger(t)
}
