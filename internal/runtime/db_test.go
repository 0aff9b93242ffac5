package runtime

import (
	"testing"

	"github.com/mohammad-safakhou/waypoint/config"
)

func TestBuildPostgresDSN(t *testing.T) {
	cfg := &config.Config{Storage: config.StorageConfig{Postgres: config.PostgresConfig{
		Host: "db", User: "wp", Password: "secret", DBName: "waypoint",
	}}}
	dsn, err := BuildPostgresDSN(cfg)
	if err != nil {
		t.Fatalf("BuildPostgresDSN: %v", err)
	}
	if dsn != "postgres://wp:secret@db:5432/waypoint?sslmode=disable" {
		t.Fatalf("unexpected dsn %q", dsn)
	}

	cfg.Storage.Postgres.URL = "postgres://override"
	if dsn, _ := BuildPostgresDSN(cfg); dsn != "postgres://override" {
		t.Fatalf("expected url to win, got %q", dsn)
	}

	if _, err := BuildPostgresDSN(&config.Config{}); err == nil {
		t.Fatalf("expected error for empty config")
	}
}
