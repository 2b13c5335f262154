package postgres

import (
	"context"
	"errors"
	"strings"
	"testing"

	orm "github.com/medatechnology/polyorm"
)

func TestConnectRejectsMalformedDSN(t *testing.T) {
	tests := []string{
		"",
		"host=localhost user",
		"postgres://localhost:5432/mydb",
		"host=localhost port=99999 user=u dbname=d",
	}
	for _, dsn := range tests {
		t.Run(dsn, func(t *testing.T) {
			db := New(WithLogger(orm.NewNoopLogger()))
			err := db.Connect(context.Background(), dsn)
			if !errors.Is(err, ErrPostgresInvalidDSN) {
				t.Errorf("Expected ErrPostgresInvalidDSN, got %v", err)
			}
			if db.IsConnected() {
				t.Error("Expected DB to stay disconnected")
			}
		})
	}
}

func TestConnectIsLazy(t *testing.T) {
	// Nothing listens on port 1; database/sql dials on first use only.
	db, err := Open(context.Background(), "postgres://u:p@127.0.0.1:1/db?sslmode=disable", WithLogger(orm.NewNoopLogger()))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	defer db.Close()

	if !db.IsConnected() {
		t.Error("Expected IsConnected after Connect")
	}
	if db.Engine() != EngineName {
		t.Errorf("Expected engine %s, got %s", EngineName, db.Engine())
	}
}

func TestCommandsBeforeConnect(t *testing.T) {
	db := New(WithLogger(orm.NewNoopLogger()))
	if _, err := db.ExecuteNonQuery(context.Background(), "SELECT 1"); !errors.Is(err, orm.ErrConnectionNotInitialized) {
		t.Errorf("Expected ErrConnectionNotInitialized, got %v", err)
	}
}

func TestPlaceholder(t *testing.T) {
	db := New()
	tests := []struct {
		position int
		want     string
	}{
		{1, "$1"},
		{2, "$2"},
		{10, "$10"},
	}
	for _, tt := range tests {
		if got := db.Placeholder("ignored", tt.position); got != tt.want {
			t.Errorf("Expected %s, got %s", tt.want, got)
		}
	}
}

func TestRedactDSN(t *testing.T) {
	got := redactDSN("postgres://user:s3cret@db:5432/app")
	if strings.Contains(got, "s3cret") {
		t.Errorf("Expected password to be hidden, got %s", got)
	}
	if redactDSN("not a dsn") != "" {
		t.Error("Expected empty string for an unparsable DSN")
	}
}
