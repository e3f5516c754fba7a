// Package dbtest поднимает Postgres в контейнере для интеграционных тестов репозиториев.
package dbtest

import (
	"context"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/vasiliy-maslov/costume-exchange/internal/config"
	"github.com/vasiliy-maslov/costume-exchange/internal/db"
)

// MigrationsPath возвращает абсолютный путь к каталогу migrations в корне модуля.
func MigrationsPath() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "..", "..", "..", "migrations")
}

// Start запускает контейнер, применяет миграции и возвращает подключение.
// Тест пропускается в режиме -short.
func Start(t *testing.T) *db.Postgres {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}

	ctx := context.Background()
	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	})

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	port, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)

	cfg := config.PostgresConfig{
		Host:            host,
		Port:            port.Port(),
		User:            "testuser",
		Password:        "testpass",
		DBName:          "testdb",
		SSLMode:         "disable",
		MaxConns:        5,
		MinConns:        1,
		MaxConnLifetime: 5 * time.Minute,
	}

	pg, err := db.New(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(pg.Close)

	require.NoError(t, pg.Migrate(MigrationsPath(), cfg.DBName))
	return pg
}

// Truncate очищает все таблицы между тестами.
func Truncate(t *testing.T, pg *db.Postgres) {
	t.Helper()
	_, err := pg.Pool.Exec(context.Background(), "TRUNCATE TABLE order_items, orders, costumes, users RESTART IDENTITY CASCADE")
	require.NoError(t, err, "failed to truncate tables")
}
