// Package dbtest provides an in-memory database for package tests
package dbtest

import (
	"fmt"
	"strings"
	"testing"

	"github.com/zllovesuki/seatplan/db"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// New opens a sqlite database private to the test t
func New(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)

	conn, err := gorm.Open(sqlite.Open(dsn), db.Config(zaptest.NewLogger(t)))
	require.NoError(t, err)

	pool, err := conn.DB()
	require.NoError(t, err)
	// a single connection keeps the in-memory database alive for the whole test
	pool.SetMaxOpenConns(1)
	t.Cleanup(func() {
		pool.Close()
	})

	return conn
}
