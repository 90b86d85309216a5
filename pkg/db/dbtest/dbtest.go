// Package dbtest opens migrated in-memory databases for tests.
package dbtest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/yourorg/config-generator/pkg/db"
)

// New returns a fresh, fully migrated in-memory sqlite database that is
// closed when the test ends.
func New(t testing.TB) *gorm.DB {
	t.Helper()

	conn, err := db.NewConnection(&db.Config{
		Driver:   db.DriverSQLite,
		DSN:      ":memory:",
		LogLevel: "silent",
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.NoError(t, db.RunMigrations(context.Background(), conn, zap.NewNop()))
	return conn.DB()
}
