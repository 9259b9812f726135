//go:build integration

package containers

import (
	"context"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/stwalsh4118/reach/internal/config"
)

const postgisImage = "postgis/postgis:16-3.4"

// NewPostGIS starts a PostGIS container and returns the configuration to reach it.
// The container is terminated when the test finishes.
func NewPostGIS(t *testing.T) config.DatabaseConfig {
	t.Helper()
	ctx := context.Background()

	cfg := config.DatabaseConfig{
		Name:     "reach_test",
		User:     "postgres",
		Password: "postgres",
		PoolMin:  1,
		PoolMax:  4,
	}

	container, err := tcpostgres.Run(ctx, postgisImage,
		tcpostgres.WithDatabase(cfg.Name),
		tcpostgres.WithUsername(cfg.User),
		tcpostgres.WithPassword(cfg.Password),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Fatalf("failed to start postgis container: %v", err)
	}
	testcontainers.CleanupContainer(t, container)

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("failed to get postgis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("failed to get postgis port: %v", err)
	}

	cfg.Host = host
	cfg.Port = port.Port()
	return cfg
}
