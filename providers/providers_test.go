package providers

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	orm "github.com/medatechnology/polyorm"
	"github.com/medatechnology/polyorm/mapper"
	"github.com/medatechnology/polyorm/raw"
	"github.com/medatechnology/polyorm/sqlite"
	"github.com/medatechnology/polyorm/tracking"
)

type Widget struct {
	Id   int
	Name string
}

const widgetTable = "CREATE TABLE Widget (Id INTEGER PRIMARY KEY, Name TEXT)"

func quiet() Option { return WithLogger(orm.NewNoopLogger()) }

// seed creates the Widget table through whatever handle p exposes.
func seed(t *testing.T, p orm.EntityProvider) {
	t.Helper()
	var err error
	switch p := p.(type) {
	case *raw.Provider:
		_, err = p.Database().ExecuteNonQuery(context.Background(), widgetTable)
	case *mapper.Provider:
		_, err = p.DB().Exec(widgetTable)
	case *tracking.Provider:
		err = p.DB().Exec(widgetTable).Error
	default:
		t.Fatalf("unexpected provider %T", p)
	}
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func TestDefaultNames(t *testing.T) {
	want := []string{
		GormMySQL, GormPostgres, GormSQLite,
		MySQL, Postgres, RQLite, SQLite,
		SqlxMySQL, SqlxPostgres, SqlxSQLite,
	}
	if diff := cmp.Diff(want, Default(quiet()).Names()); diff != "" {
		t.Errorf("registered names mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{MySQL, Postgres, RQLite, SQLite}, Databases(quiet()).Names()); diff != "" {
		t.Errorf("database names mismatch (-want +got):\n%s", diff)
	}
}

// The scenario runs once under the name "Test" and once for every built-in
// provider that needs no server.
func TestWidgetScenario(t *testing.T) {
	reg := Default(quiet())
	err := reg.Register("Test", func(ctx context.Context, cs string) (orm.EntityProvider, error) {
		db, err := sqlite.Open(ctx, cs, sqlite.WithLogger(orm.NewNoopLogger()))
		if err != nil {
			return nil, err
		}
		if _, err := db.ExecuteNonQuery(ctx, widgetTable); err != nil {
			db.Close()
			return nil, err
		}
		return raw.New(db, raw.WithLogger(orm.NewNoopLogger())), nil
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	for _, name := range []string{"Test", SQLite, SqlxSQLite, GormSQLite} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			p, err := reg.Create(ctx, name, "")
			if err != nil {
				t.Fatalf("Create: %v", err)
			}
			defer p.Close()
			if name != "Test" {
				seed(t, p)
			}
			repo, err := orm.NewRepository[Widget](p)
			if err != nil {
				t.Fatalf("NewRepository: %v", err)
			}
			save := func() {
				t.Helper()
				if _, err := p.SaveChanges(ctx); err != nil {
					t.Fatalf("SaveChanges: %v", err)
				}
			}

			if err := repo.Add(ctx, &Widget{Id: 1, Name: "a"}); err != nil {
				t.Fatalf("Add: %v", err)
			}
			save()
			got, err := repo.GetByID(ctx, 1)
			if err != nil || got == nil || *got != (Widget{Id: 1, Name: "a"}) {
				t.Fatalf("Expected {1 a}, got %+v (%v)", got, err)
			}

			if err := repo.Update(ctx, &Widget{Id: 1, Name: "b"}); err != nil {
				t.Fatalf("Update: %v", err)
			}
			save()
			got, err = repo.GetByID(ctx, 1)
			if err != nil || got == nil || *got != (Widget{Id: 1, Name: "b"}) {
				t.Fatalf("Expected {1 b}, got %+v (%v)", got, err)
			}

			if err := repo.Delete(ctx, &Widget{Id: 1}); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			save()
			got, err = repo.GetByID(ctx, 1)
			if err != nil || got != nil {
				t.Errorf("Expected not found, got %+v (%v)", got, err)
			}
		})
	}
}

func TestSaveChangesSemantics(t *testing.T) {
	tests := []struct {
		name string
		want int
	}{
		{SQLite, 0},
		{SqlxSQLite, 0},
		{GormSQLite, 2},
	}
	reg := Default(quiet())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			p, err := reg.Create(ctx, tt.name, "")
			if err != nil {
				t.Fatalf("Create: %v", err)
			}
			defer p.Close()
			seed(t, p)
			repo, _ := orm.NewRepository[Widget](p)
			if err := repo.AddRange(ctx, []Widget{{Id: 1, Name: "a"}, {Id: 2, Name: "b"}}); err != nil {
				t.Fatalf("AddRange: %v", err)
			}
			n, err := p.SaveChanges(ctx)
			if err != nil {
				t.Fatalf("SaveChanges: %v", err)
			}
			if n != tt.want {
				t.Errorf("Expected %d, got %d", tt.want, n)
			}
		})
	}
}

func TestUnknownProvider(t *testing.T) {
	_, err := Default(quiet()).Create(context.Background(), "oracle", "")
	if !errors.Is(err, orm.ErrProviderNotSupported) {
		t.Fatalf("Expected ErrProviderNotSupported, got %v", err)
	}
	if !strings.Contains(err.Error(), "oracle") {
		t.Errorf("Expected the error to name the provider, got %q", err.Error())
	}
}

func TestMalformedConnectionStrings(t *testing.T) {
	tests := []struct {
		name string
		cs   string
	}{
		{Postgres, "host=localhost user"},
		{SqlxPostgres, "host=localhost user"},
		{GormPostgres, "host=localhost user"},
		{MySQL, "user:pass@tcp(127.0.0.1:3306"},
		{GormMySQL, "user:pass@tcp(127.0.0.1:3306"},
		{RQLite, "ftp://localhost:4001"},
	}
	reg := Default(quiet())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := reg.Create(context.Background(), tt.name, tt.cs)
			if err == nil {
				p.Close()
				t.Fatalf("Expected an error for %q", tt.cs)
			}
			if p != nil {
				t.Errorf("Expected a nil provider, got %T", p)
			}
		})
	}
}

func TestDatabases(t *testing.T) {
	ctx := context.Background()
	db, err := Databases(quiet()).Create(ctx, SQLite, "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer db.Close()
	n, err := orm.Scalar[int](ctx, db, "SELECT 1 + 1")
	if err != nil || n != 2 {
		t.Errorf("Expected 2, got %d (%v)", n, err)
	}
	if db.Engine() != sqlite.EngineName {
		t.Errorf("Expected engine %s, got %s", sqlite.EngineName, db.Engine())
	}
}
