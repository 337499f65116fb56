package backend

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"fintrack/internal/config"
	"fintrack/internal/log"
	"fintrack/internal/storage"
)

func TestFromAppConfig(t *testing.T) {
	cfg := &config.Config{
		DataBackend:  "postgres",
		DatabaseURL:  "postgres://localhost/fintrack",
		DBMaxConns:   7,
		SQLiteDBPath: "./x.db",
	}
	got, err := FromAppConfig(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Type != PostgresBackend || got.MaxConns != 7 || got.DatabaseURL != cfg.DatabaseURL {
		t.Fatalf("unexpected backend config %+v", got)
	}

	if _, err := FromAppConfig(nil); err == nil {
		t.Fatal("expected error for nil config")
	}
	if _, err := FromAppConfig(&config.Config{DataBackend: "sheets"}); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{name: "memory", config: Config{Type: MemoryBackend}},
		{name: "sqlite", config: Config{Type: SQLiteBackend, SQLiteDBPath: "a.db"}},
		{name: "sqlite without path", config: Config{Type: SQLiteBackend}, wantErr: "SQLite database path"},
		{name: "postgres without url", config: Config{Type: PostgresBackend, MaxConns: 1}, wantErr: "database URL"},
		{name: "postgres without pool", config: Config{Type: PostgresBackend, DatabaseURL: "postgres://x"}, wantErr: "at least one connection"},
		{name: "unknown", config: Config{Type: "csv"}, wantErr: "invalid backend type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestGetBackendTypeStrings(t *testing.T) {
	got := strings.Join(GetBackendTypeStrings(), ",")
	if got != "memory,sqlite,postgres" {
		t.Fatalf("unexpected backend types %q", got)
	}
}

func TestCreateBackend(t *testing.T) {
	factory := NewFactory(log.Discard())
	ctx := context.Background()

	configs := map[string]Config{
		"memory": {Type: MemoryBackend},
		"sqlite": {Type: SQLiteBackend, SQLiteDBPath: filepath.Join(t.TempDir(), "nested", "fintrack.db")},
	}
	for name, cfg := range configs {
		t.Run(name, func(t *testing.T) {
			res, err := factory.CreateBackend(ctx, cfg)
			if err != nil {
				t.Fatalf("create backend: %v", err)
			}
			t.Cleanup(func() {
				if err := res.Cleanup(); err != nil {
					t.Errorf("cleanup: %v", err)
				}
			})

			if err := res.Repository.Ping(ctx); err != nil {
				t.Fatalf("ping: %v", err)
			}
			u, err := res.Repository.CreateUser(ctx, storage.NewUser{Email: "a@b.c", Name: "A"})
			if err != nil {
				t.Fatalf("create user: %v", err)
			}
			if u.ID == 0 {
				t.Fatal("expected an assigned id")
			}
		})
	}
}

func TestCreateBackend_InvalidConfig(t *testing.T) {
	_, err := NewFactory(nil).CreateBackend(context.Background(), Config{Type: SQLiteBackend})
	if err == nil {
		t.Fatal("expected error")
	}
}
