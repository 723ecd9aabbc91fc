//go:build integration

package testutil

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/civicflow/platform/internal/app"
	"github.com/civicflow/platform/internal/auth"
	"github.com/civicflow/platform/internal/infra"
	"github.com/civicflow/platform/internal/provider"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	TestJWTSecret     = "integration-test-secret"
	TestGatewaySecret = "whsec_test_integration_secret"
	TestDBHost        = "localhost"
	TestDBPort        = 5435
	TestDBUser        = "civic"
	TestDBPass        = "civic"
	TestDBName        = "civic_test"
	TestAuthority     = "ward-7"
)

// TestEnv holds all resources for an integration test.
type TestEnv struct {
	Server *httptest.Server
	Pool   *pgxpool.Pool
	JWTMgr *auth.JWTManager
	t      *testing.T
}

var (
	sharedPool *pgxpool.Pool
	poolOnce   sync.Once
	poolErr    error

	sharedIDs *infra.IDGenerator
)

func testDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		TestDBUser, TestDBPass, TestDBHost, TestDBPort, TestDBName)
}

func bootstrapDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		TestDBUser, TestDBPass, TestDBHost, TestDBPort, "civic")
}

func ensureTestDB() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	bPool, err := pgxpool.New(ctx, bootstrapDSN())
	if err != nil {
		return fmt.Errorf("connect bootstrap db: %w", err)
	}
	defer bPool.Close()

	var exists bool
	err = bPool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM pg_database WHERE datname = $1)", TestDBName).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check db exists: %w", err)
	}

	if !exists {
		_, err = bPool.Exec(ctx, fmt.Sprintf("CREATE DATABASE %s", TestDBName))
		if err != nil {
			return fmt.Errorf("create test db: %w", err)
		}
	}

	return nil
}

func getSharedPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	poolOnce.Do(func() {
		if err := ensureTestDB(); err != nil {
			poolErr = err
			return
		}

		// An empty dir makes the migrator walk up to db/migrations.
		if err := infra.RunMigrations(testDSN(), "", quietLogger()); err != nil {
			poolErr = fmt.Errorf("run migrations: %w", err)
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		poolCfg, err := pgxpool.ParseConfig(testDSN())
		if err != nil {
			poolErr = fmt.Errorf("parse pool config: %w", err)
			return
		}
		poolCfg.MaxConns = 10
		poolCfg.MinConns = 1
		poolCfg.ConnConfig.RuntimeParams["lock_timeout"] = "5000"

		sharedPool, err = pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			poolErr = fmt.Errorf("create pool: %w", err)
			return
		}

		sharedIDs, err = infra.NewIDGenerator(900)
		if err != nil {
			poolErr = err
			sharedPool.Close()
			sharedPool = nil
		}
	})

	if poolErr != nil {
		t.Fatalf("failed to initialize test pool: %v", poolErr)
	}
	return sharedPool
}

func quietLogger() *slog.Logger {
	if os.Getenv("INTEGRATION_VERBOSE") != "" {
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// NewTestEnv creates a test environment with an httptest.Server backed by the
// real router and test DB. The building-permit configuration is published
// before the test starts.
func NewTestEnv(t *testing.T) *TestEnv {
	t.Helper()

	pool := getSharedPool(t)

	jwtMgr := auth.NewJWTManager(TestJWTSecret, time.Hour, time.Hour)
	logger := quietLogger()
	gateways := provider.NewRegistry(provider.NewStubGateway(TestGatewaySecret, true))

	services := app.NewServices(app.ServiceDeps{
		DB:       pool,
		Repos:    app.PostgresRepositories(),
		Gateways: gateways,
		IDs:      sharedIDs,
		Currency: "INR",
		Logger:   logger,
	})

	router := app.NewRouter(app.RouterDeps{
		Services:          services,
		Gateways:          gateways,
		JWTMgr:            jwtMgr,
		Health:            pool,
		CORSOrigins:       []string{"*"},
		WebhookRateLimit:  1000,
		WebhookRateWindow: time.Minute,
		Logger:            logger,
	})

	server := httptest.NewServer(router)

	env := &TestEnv{
		Server: server,
		Pool:   pool,
		JWTMgr: jwtMgr,
		t:      t,
	}

	t.Cleanup(func() {
		server.Close()
		env.CleanAll()
	})

	// Clean before test to ensure isolation
	env.CleanAll()
	env.PublishService("building-permit.yaml")

	return env
}
