package orm

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func constant(v string) Constructor[string] {
	return func(ctx context.Context, cs string) (string, error) { return v + cs, nil }
}

func TestRegistryCreate(t *testing.T) {
	reg := NewRegistry[string]().WithLogger(NewNoopLogger())
	if err := reg.Register("Postgres", constant("pg:")); err != nil {
		t.Fatalf("Register: %v", err)
	}

	tests := []struct {
		name string
		want string
	}{
		{"Postgres", "pg:dsn"},
		{"postgres", "pg:dsn"},
		{" POSTGRES ", "pg:dsn"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := reg.Create(context.Background(), tt.name, "dsn")
			if err != nil {
				t.Fatalf("Create: %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestRegistryOverwrite(t *testing.T) {
	reg := NewRegistry[string]().WithLogger(NewNoopLogger())
	_ = reg.Register("mem", constant("first"))
	_ = reg.Register("MEM", constant("second"))

	got, err := reg.Create(context.Background(), "mem", "")
	if err != nil || got != "second" {
		t.Errorf("Expected the later registration, got %q (%v)", got, err)
	}
	if diff := cmp.Diff([]string{"MEM"}, reg.Names()); diff != "" {
		t.Errorf("names mismatch (-want +got):\n%s", diff)
	}
}

func TestRegistryMiss(t *testing.T) {
	reg := NewRegistry[string]().WithLogger(NewNoopLogger())
	_ = reg.Register("sqlite", constant(""))

	_, err := reg.Create(context.Background(), "oracle", "")
	if !errors.Is(err, ErrProviderNotSupported) {
		t.Fatalf("Expected ErrProviderNotSupported, got %v", err)
	}
	var pns *ProviderNotSupportedError
	if !errors.As(err, &pns) || pns.Name != "oracle" {
		t.Fatalf("Expected a *ProviderNotSupportedError for oracle, got %#v", err)
	}
	for _, want := range []string{"oracle", "sqlite"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Expected %q in %q", want, err.Error())
		}
	}
}

func TestRegistryRejects(t *testing.T) {
	reg := NewRegistry[string]()
	if err := reg.Register("  ", constant("")); !errors.Is(err, ErrInvalidProviderName) {
		t.Errorf("Expected ErrInvalidProviderName, got %v", err)
	}
	if err := reg.Register("x", nil); !errors.Is(err, ErrNullConstructor) {
		t.Errorf("Expected ErrNullConstructor, got %v", err)
	}
	if reg.Has("x") {
		t.Error("Expected nothing registered")
	}
}

func TestRegistryConstructorErrorPassesThrough(t *testing.T) {
	boom := errors.New("boom")
	reg := NewRegistry[string]()
	_ = reg.Register("bad", func(ctx context.Context, cs string) (string, error) { return "", boom })
	if _, err := reg.Create(context.Background(), "bad", ""); err != boom {
		t.Errorf("Expected the constructor error unchanged, got %v", err)
	}
}

func TestRegistryUnregister(t *testing.T) {
	reg := NewRegistry[string]()
	_ = reg.Register("a", constant(""))
	reg.Unregister("A")
	reg.Unregister("never-registered")
	if reg.Has("a") || len(reg.Names()) != 0 {
		t.Errorf("Expected an empty registry, got %v", reg.Names())
	}
}

func TestRegistryConcurrentUse(t *testing.T) {
	reg := NewRegistry[string]().WithLogger(NewNoopLogger())
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = reg.Register("shared", constant("v"))
		}()
		go func() {
			defer wg.Done()
			_, _ = reg.Create(context.Background(), "shared", "")
			_ = reg.Names()
		}()
	}
	wg.Wait()
	if !reg.Has("shared") {
		t.Error("Expected shared to be registered")
	}
}
