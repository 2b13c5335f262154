package rqlite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	orm "github.com/medatechnology/polyorm"
	"github.com/medatechnology/polyorm/internal/sqliteerr"
)

// fakeNode answers the two rqlite endpoints gorqlite uses for data and
// records every write batch it receives.
type fakeNode struct {
	mu       sync.Mutex
	batches  [][]json.RawMessage
	queries  int
	query    string // JSON body for /db/query
	writeErr string // statement error returned by /db/execute
}

func (f *fakeNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var statements []json.RawMessage
	_ = json.NewDecoder(r.Body).Decode(&statements)

	switch r.URL.Path {
	case "/db/execute":
		f.batches = append(f.batches, statements)
		results := make([]string, len(statements))
		for i := range statements {
			if f.writeErr != "" {
				results[i] = fmt.Sprintf(`{"error":%q}`, f.writeErr)
				continue
			}
			results[i] = fmt.Sprintf(`{"last_insert_id":%d,"rows_affected":1}`, i+1)
		}
		fmt.Fprintf(w, `{"results":[%s]}`, strings.Join(results, ","))
	case "/db/query":
		f.queries++
		fmt.Fprint(w, f.query)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeNode) writes() [][]json.RawMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.batches
}

func newFakeNode(t *testing.T) (*fakeNode, *DB) {
	t.Helper()
	node := &fakeNode{query: `{"results":[{"columns":["Id","Name"],"types":["integer","text"],"values":[]}]}`}
	srv := httptest.NewServer(node)
	t.Cleanup(srv.Close)

	db, err := Open(context.Background(), srv.URL+"?disableClusterDiscovery=true", WithLogger(orm.NewNoopLogger()))
	if err != nil {
		t.Fatalf("Expected no error opening fake node, got %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return node, db
}

func TestCommandsBeforeConnect(t *testing.T) {
	ctx := context.Background()
	db := New(WithLogger(orm.NewNoopLogger()))

	if db.IsConnected() {
		t.Error("Expected a new DB to be disconnected")
	}
	if _, err := db.ExecuteNonQuery(ctx, "DELETE FROM Widget"); !errors.Is(err, orm.ErrConnectionNotInitialized) {
		t.Errorf("ExecuteNonQuery: expected ErrConnectionNotInitialized, got %v", err)
	}
	if _, err := db.ExecuteQuery(ctx, "SELECT * FROM Widget"); !errors.Is(err, orm.ErrConnectionNotInitialized) {
		t.Errorf("ExecuteQuery: expected ErrConnectionNotInitialized, got %v", err)
	}
	if _, err := db.ExecuteScalar(ctx, "SELECT 1"); !errors.Is(err, orm.ErrConnectionNotInitialized) {
		t.Errorf("ExecuteScalar: expected ErrConnectionNotInitialized, got %v", err)
	}
	if err := db.BeginTransaction(ctx); !errors.Is(err, orm.ErrConnectionNotInitialized) {
		t.Errorf("BeginTransaction: expected ErrConnectionNotInitialized, got %v", err)
	}
}

func TestConnectRejectsMalformedURL(t *testing.T) {
	tests := []struct {
		name string
		url  string
	}{
		{"empty", ""},
		{"wrong scheme", "ftp://localhost:4001"},
		{"no host", "http://"},
		{"bad timeout", "http://localhost:4001?timeout=soon"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := New(WithLogger(orm.NewNoopLogger()))
			err := db.Connect(context.Background(), tt.url)
			if !errors.Is(err, ErrRQLiteInvalidURL) {
				t.Errorf("Expected ErrRQLiteInvalidURL, got %v", err)
			}
			if db.IsConnected() {
				t.Error("Expected DB to stay disconnected")
			}
		})
	}
}

func TestConnectDoesNotDial(t *testing.T) {
	// Nothing listens on port 1; Connect must still succeed.
	db, err := Open(context.Background(), "http://127.0.0.1:1", WithLogger(orm.NewNoopLogger()))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !db.IsConnected() {
		t.Error("Expected IsConnected after Connect")
	}
}

func TestBufferedTransactionCommit(t *testing.T) {
	ctx := context.Background()
	node, db := newFakeNode(t)

	if err := db.BeginTransaction(ctx); err != nil {
		t.Fatalf("BeginTransaction: %v", err)
	}
	if err := db.BeginTransaction(ctx); !errors.Is(err, orm.ErrTransactionAlreadyActive) {
		t.Errorf("Expected ErrTransactionAlreadyActive, got %v", err)
	}
	for i := 1; i <= 2; i++ {
		n, err := db.ExecuteNonQuery(ctx, "INSERT INTO Widget (Id, Name) VALUES (?, ?)",
			db.CreateParameter("Id", i), db.CreateParameter("Name", fmt.Sprintf("w%d", i)))
		if err != nil {
			t.Fatalf("ExecuteNonQuery: %v", err)
		}
		if n != 0 {
			t.Errorf("Expected 0 rows affected while buffering, got %d", n)
		}
	}
	if got := len(node.writes()); got != 0 {
		t.Fatalf("Expected no writes before commit, got %d", got)
	}
	if db.Pending() != 2 {
		t.Errorf("Expected 2 pending writes, got %d", db.Pending())
	}

	if err := db.CommitTransaction(ctx); err != nil {
		t.Fatalf("CommitTransaction: %v", err)
	}
	batches := node.writes()
	if len(batches) != 1 {
		t.Fatalf("Expected 1 batch, got %d", len(batches))
	}
	if len(batches[0]) != 2 {
		t.Errorf("Expected 2 statements in the batch, got %d", len(batches[0]))
	}
	if db.IsTransactionActive() {
		t.Error("Expected no active transaction after commit")
	}
	if db.TransactionState() != orm.TxCommitted {
		t.Errorf("Expected state %v, got %v", orm.TxCommitted, db.TransactionState())
	}
}

func TestBufferedTransactionRollback(t *testing.T) {
	ctx := context.Background()
	node, db := newFakeNode(t)

	if err := db.BeginTransaction(ctx); err != nil {
		t.Fatalf("BeginTransaction: %v", err)
	}
	if _, err := db.ExecuteNonQuery(ctx, "DELETE FROM Widget"); err != nil {
		t.Fatalf("ExecuteNonQuery: %v", err)
	}
	if err := db.RollbackTransaction(ctx); err != nil {
		t.Fatalf("RollbackTransaction: %v", err)
	}
	if got := len(node.writes()); got != 0 {
		t.Errorf("Expected rollback to send nothing, got %d batches", got)
	}
	if db.Pending() != 0 {
		t.Errorf("Expected 0 pending writes, got %d", db.Pending())
	}
	if db.TransactionState() != orm.TxRolledBack {
		t.Errorf("Expected state %v, got %v", orm.TxRolledBack, db.TransactionState())
	}
}

func TestCommitAndRollbackWithoutTransaction(t *testing.T) {
	ctx := context.Background()
	node, db := newFakeNode(t)

	if err := db.CommitTransaction(ctx); err != nil {
		t.Errorf("Expected nil commit with no transaction, got %v", err)
	}
	if err := db.RollbackTransaction(ctx); err != nil {
		t.Errorf("Expected nil rollback with no transaction, got %v", err)
	}
	if err := db.BeginTransaction(ctx); err != nil {
		t.Fatalf("BeginTransaction: %v", err)
	}
	if err := db.CommitTransaction(ctx); err != nil {
		t.Errorf("Expected empty commit to succeed, got %v", err)
	}
	if got := len(node.writes()); got != 0 {
		t.Errorf("Expected empty commit to send nothing, got %d batches", got)
	}
}

func TestExecuteNonQueryOutsideTransaction(t *testing.T) {
	node, db := newFakeNode(t)

	n, err := db.ExecuteNonQuery(context.Background(), "UPDATE Widget SET Name = ? WHERE Id = ?",
		db.CreateParameter("@Name", "x"), db.CreateParameter("@Id", 1))
	if err != nil {
		t.Fatalf("ExecuteNonQuery: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 row affected, got %d", n)
	}
	if got := len(node.writes()); got != 1 {
		t.Errorf("Expected 1 batch, got %d", got)
	}
}

func TestExecuteQueryRows(t *testing.T) {
	node, db := newFakeNode(t)
	node.query = `{"results":[{"columns":["Id","Name"],"types":["integer","text"],"values":[[1,"first"],[2,"second"]]}]}`

	rows, err := db.ExecuteQuery(context.Background(), "SELECT * FROM Widget")
	if err != nil {
		t.Fatalf("ExecuteQuery: %v", err)
	}
	records, err := orm.ScanRecords(rows, "Widget")
	if err != nil {
		t.Fatalf("ScanRecords: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(records))
	}
	id, err := orm.ConvertTo[int64](records[1].Data["Id"])
	if err != nil || id != 2 {
		t.Errorf("Expected Id 2, got %v (%v)", records[1].Data["Id"], err)
	}
	if records[0].Data["Name"] != "first" {
		t.Errorf("Expected Name first, got %v", records[0].Data["Name"])
	}
}

func TestExecuteScalar(t *testing.T) {
	ctx := context.Background()
	node, db := newFakeNode(t)

	if _, err := db.ExecuteScalar(ctx, "SELECT Name FROM Widget"); !errors.Is(err, orm.ErrNullOrMissingResult) {
		t.Errorf("Expected ErrNullOrMissingResult on no rows, got %v", err)
	}

	node.query = `{"results":[{"columns":["COUNT(*)"],"types":["integer"],"values":[[3]]}]}`
	count, err := orm.Scalar[int](ctx, db, "SELECT COUNT(*) FROM Widget")
	if err != nil {
		t.Fatalf("Scalar: %v", err)
	}
	if count != 3 {
		t.Errorf("Expected 3, got %d", count)
	}

	node.query = `{"results":[{"columns":["Name"],"types":["text"],"values":[[null]]}]}`
	if _, err := db.ExecuteScalar(ctx, "SELECT Name FROM Widget"); !errors.Is(err, orm.ErrNullOrMissingResult) {
		t.Errorf("Expected ErrNullOrMissingResult on null, got %v", err)
	}
}

func TestStatementErrorIsClassified(t *testing.T) {
	node, db := newFakeNode(t)
	node.writeErr = "UNIQUE constraint failed: Widget.Id"

	_, err := db.ExecuteNonQuery(context.Background(), "INSERT INTO Widget (Id) VALUES (?)", db.CreateParameter("Id", 1))
	if err == nil {
		t.Fatal("Expected an error")
	}
	if !IsUniqueViolation(err) {
		t.Errorf("Expected a unique violation, got %v", err)
	}
	if !errors.Is(err, sqliteerr.ErrConstraint) {
		t.Errorf("Expected errors.Is(err, ErrConstraint), got %v", err)
	}
	var rqErr *RQLiteError
	if !errors.As(err, &rqErr) {
		t.Fatalf("Expected an *RQLiteError in the chain, got %T", err)
	}
	if rqErr.Operation != "EXEC" {
		t.Errorf("Expected operation EXEC, got %s", rqErr.Operation)
	}
}

func TestFailedCommitEndsTransaction(t *testing.T) {
	ctx := context.Background()
	node, db := newFakeNode(t)
	node.writeErr = "NOT NULL constraint failed: Widget.Name"

	if err := db.BeginTransaction(ctx); err != nil {
		t.Fatalf("BeginTransaction: %v", err)
	}
	if _, err := db.ExecuteNonQuery(ctx, "INSERT INTO Widget (Id) VALUES (?)", db.CreateParameter("Id", 1)); err != nil {
		t.Fatalf("ExecuteNonQuery: %v", err)
	}
	err := db.CommitTransaction(ctx)
	if !IsNotNullViolation(err) {
		t.Errorf("Expected a not-null violation, got %v", err)
	}
	if db.IsTransactionActive() {
		t.Error("Expected the transaction to end after a failed commit")
	}
	if err := db.BeginTransaction(ctx); err != nil {
		t.Errorf("Expected a new transaction to start, got %v", err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	_, db := newFakeNode(t)

	if err := db.Close(); err != nil {
		t.Errorf("Expected nil from first Close, got %v", err)
	}
	if err := db.Close(); err != nil {
		t.Errorf("Expected nil from second Close, got %v", err)
	}
	if _, err := db.ExecuteNonQuery(context.Background(), "DELETE FROM Widget"); !errors.Is(err, orm.ErrProviderClosed) {
		t.Errorf("Expected ErrProviderClosed, got %v", err)
	}
	if err := db.Connect(context.Background(), "http://localhost:4001"); !errors.Is(err, orm.ErrProviderClosed) {
		t.Errorf("Expected ErrProviderClosed from Connect, got %v", err)
	}
}

func TestCanceledContext(t *testing.T) {
	_, db := newFakeNode(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := db.ExecuteQuery(ctx, "SELECT * FROM Widget"); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestPlaceholder(t *testing.T) {
	db := New()
	if got := db.Placeholder("Id", 3); got != "?" {
		t.Errorf("Expected ?, got %s", got)
	}
	p := db.CreateParameter(":Name", "x")
	if p.Name != "Name" {
		t.Errorf("Expected parameter name Name, got %s", p.Name)
	}
}
