package testutils

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/krew-solutions/commerce-dispatch-go/crossdispatch/session"
	pgxsession "github.com/krew-solutions/commerce-dispatch-go/crossdispatch/session/pgx"
)

func PostgresURL() string {
	if url, ok := os.LookupEnv("DISPATCH_TEST_POSTGRES_URL"); ok {
		return url
	}
	dbUsername := getEnv("DB_USERNAME", "devel")
	dbPassword := getEnv("DB_PASSWORD", "devel")
	dbHost := getEnv("DB_HOST", "localhost")
	dbPort := getEnv("DB_PORT", "5432")
	dbBasename := getEnv("DB_DATABASE", "devel_dispatch")

	return "postgres://" + dbUsername + ":" + dbPassword + "@" + dbHost + ":" + dbPort + "/" + dbBasename
}

// NewPgxSessionPool connects to the test database or skips the test when it
// is not reachable.
func NewPgxSessionPool(t *testing.T) session.SessionPool {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	pool, err := pgxsession.Connect(ctx, PostgresURL(), 4)
	if err != nil {
		t.Skipf("postgres is not available: %v", err)
	}
	t.Cleanup(pool.Close)

	return pgxsession.NewSessionPool(pool)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}

	return fallback
}
