package repository

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/navigapp/navigapp-server-go/internal/database"
)

// setupTestDB connects to TEST_DATABASE_URL, applies the schema and empties
// the auth tables. Tests are skipped when the variable is unset.
func setupTestDB(t *testing.T) *database.DB {
	t.Helper()

	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	db, err := database.Connect(url)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, db.Migrate(ctx))
	_, err = db.ExecContext(ctx, `TRUNCATE auth_sessions, bot_auth_requests, users CASCADE`)
	require.NoError(t, err)

	return db
}

func strPtr(s string) *string {
	return &s
}
