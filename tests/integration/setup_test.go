//go:build integration

package integration

import (
	"context"
	"log"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	tcPostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcRedis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ramiqadoumi/go-poll-sync/internal/postgres"
)

var (
	testRedisAddr   string
	testPostgresDSN string
)

func TestMain(m *testing.M) {
	os.Exit(run(m))
}

func run(m *testing.M) int {
	ctx := context.Background()

	// ── Redis ────────────────────────────────────────────────────────────────
	redisCtr, err := tcRedis.Run(ctx, "redis:7-alpine")
	if err != nil {
		log.Fatalf("start redis container: %v", err)
	}
	defer redisCtr.Terminate(ctx) //nolint:errcheck

	redisConnStr, err := redisCtr.ConnectionString(ctx)
	if err != nil {
		log.Fatalf("redis connection string: %v", err)
	}
	// ConnectionString returns "redis://host:port" — strip the scheme for go-redis Addr.
	testRedisAddr = strings.TrimPrefix(redisConnStr, "redis://")

	// ── PostgreSQL ───────────────────────────────────────────────────────────
	pgCtr, err := tcPostgres.Run(ctx, "postgres:15-alpine",
		tcPostgres.WithDatabase("pollsync"),
		tcPostgres.WithUsername("pollsync"),
		tcPostgres.WithPassword("pollsync"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		log.Fatalf("start postgres container: %v", err)
	}
	defer pgCtr.Terminate(ctx) //nolint:errcheck

	pgDSN, err := pgCtr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		log.Fatalf("postgres connection string: %v", err)
	}
	testPostgresDSN = pgDSN

	if err := applySchema(ctx, pgDSN); err != nil {
		log.Fatalf("apply schema: %v", err)
	}

	return m.Run()
}

func applySchema(ctx context.Context, dsn string) error {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return err
	}
	defer pool.Close()
	return postgres.Migrate(ctx, pool)
}
