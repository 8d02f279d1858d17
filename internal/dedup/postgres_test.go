package dedup

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

// getTestConnectionString returns the PostgreSQL connection string for testing.
// Tests are skipped if the environment variable is not set.
func getTestConnectionString(t *testing.T) string {
	connStr := os.Getenv("CRASHWATCH_TEST_POSTGRES_URL")
	if connStr == "" {
		t.Skip("CRASHWATCH_TEST_POSTGRES_URL environment variable not set, skipping PostgreSQL integration tests")
	}
	return connStr
}

func TestPostgres_Window(t *testing.T) {
	ctx := context.Background()
	c, err := NewPostgres(ctx, &PostgresConfig{ConnectionString: getTestConnectionString(t)})
	require.NoError(t, err)
	defer c.Close()

	_, err = c.db.ExecContext(ctx, `DELETE FROM dedup_marks WHERE key IN ('web-7f', 'api-5c')`)
	require.NoError(t, err)

	clock := newFakeClock()
	c.now = clock.Now

	exerciseWindow(t, c, clock.Advance)
}

func TestPostgres_RequiresConnectionString(t *testing.T) {
	_, err := NewPostgres(context.Background(), &PostgresConfig{})
	require.Error(t, err)
}
