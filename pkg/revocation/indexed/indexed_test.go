package indexed

import (
	"context"
	"database/sql"
	"os"
	"testing"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/zkidlabs/verifier/pkg/field"
)

// Indexed-tree tests need a real Postgres instance: set ZKID_TEST_DB to a connection
// string to run them, matching certenIO-certen-validator's proof_artifact_repository_test.go
// pattern of skipping database-backed tests when no test database is configured.
func testDatabaseURL(t *testing.T) string {
	t.Helper()
	url := os.Getenv("ZKID_TEST_DB")
	if url == "" {
		t.Skip("ZKID_TEST_DB not set, skipping indexed-tree database tests")
	}
	return url
}

func dropAll(t *testing.T, databaseURL string) {
	t.Helper()
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		t.Fatalf("open for cleanup: %v", err)
	}
	defer db.Close()
	for _, stmt := range []string{
		"DROP TABLE IF EXISTS revocation_leaves",
		"DROP TABLE IF EXISTS revocation_metadata",
		"DROP TABLE IF EXISTS schema_migrations",
	} {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("cleanup %q: %v", stmt, err)
		}
	}
}

func TestOpenInitializesMetadata(t *testing.T) {
	url := testDatabaseURL(t)
	dropAll(t, url)

	tr, err := Open(context.Background(), url, 4)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer tr.Close()

	info, err := tr.GetRootInfo(context.Background())
	if err != nil {
		t.Fatalf("GetRootInfo: %v", err)
	}
	if info.Version != 0 {
		t.Fatalf("expected version 0 on fresh tree, got %d", info.Version)
	}
}

func TestOpenRejectsDepthMismatch(t *testing.T) {
	url := testDatabaseURL(t)
	dropAll(t, url)

	tr, err := Open(context.Background(), url, 4)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	tr.Close()

	_, err = Open(context.Background(), url, 8)
	if err == nil {
		t.Fatal("expected ErrConfigMismatch reopening with a different depth")
	}
}

func TestAddContainsRemove(t *testing.T) {
	url := testDatabaseURL(t)
	dropAll(t, url)

	ctx := context.Background()
	tr, err := Open(ctx, url, 4)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer tr.Close()

	c := field.FromUint64(123)
	if ok, _ := tr.Contains(ctx, c); ok {
		t.Fatal("expected fresh tree to not contain commitment")
	}

	if err := tr.Add(ctx, c); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if ok, _ := tr.Contains(ctx, c); !ok {
		t.Fatal("expected tree to contain commitment after Add")
	}

	info, _ := tr.GetRootInfo(ctx)
	if info.Version != 1 {
		t.Fatalf("expected version 1 after one Add, got %d", info.Version)
	}

	if err := tr.Remove(ctx, c); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if ok, _ := tr.Contains(ctx, c); ok {
		t.Fatal("expected commitment removed")
	}
}

func TestAddIdempotent(t *testing.T) {
	url := testDatabaseURL(t)
	dropAll(t, url)

	ctx := context.Background()
	tr, err := Open(ctx, url, 4)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer tr.Close()

	c := field.FromUint64(7)
	if err := tr.Add(ctx, c); err != nil {
		t.Fatalf("Add: %v", err)
	}
	info1, _ := tr.GetRootInfo(ctx)

	if err := tr.Add(ctx, c); err != nil {
		t.Fatalf("second Add: %v", err)
	}
	info2, _ := tr.GetRootInfo(ctx)

	if info1.Version != info2.Version {
		t.Fatalf("expected version unchanged on idempotent re-add, got %d -> %d", info1.Version, info2.Version)
	}
	if !info1.Root.Equal(info2.Root) {
		t.Fatal("expected root unchanged on idempotent re-add")
	}
}

func TestWitnessVerifies(t *testing.T) {
	url := testDatabaseURL(t)
	dropAll(t, url)

	ctx := context.Background()
	tr, err := Open(ctx, url, 4)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer tr.Close()

	c := field.FromUint64(55)
	if err := tr.Add(ctx, c); err != nil {
		t.Fatalf("Add: %v", err)
	}

	w, ok, err := tr.GetWitness(ctx, c)
	if err != nil {
		t.Fatalf("GetWitness: %v", err)
	}
	if !ok {
		t.Fatal("expected witness for member")
	}
	if !VerifyWitness(c, w) {
		t.Fatal("membership witness failed to verify")
	}
}

func TestCapacityEnforced(t *testing.T) {
	url := testDatabaseURL(t)
	dropAll(t, url)

	ctx := context.Background()
	tr, err := Open(ctx, url, 1) // capacity 2
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer tr.Close()

	if err := tr.Add(ctx, field.FromUint64(1)); err != nil {
		t.Fatalf("Add 1: %v", err)
	}
	if err := tr.Add(ctx, field.FromUint64(2)); err != nil {
		t.Fatalf("Add 2: %v", err)
	}
	if err := tr.Add(ctx, field.FromUint64(3)); err == nil {
		t.Fatal("expected ErrFull on third add at capacity 2")
	}
}

func TestValidateIdentifier(t *testing.T) {
	valid := []string{"revocation_leaves", "_private", "Schema1"}
	invalid := []string{"1leaves", "bad-name", "bad name", ""}
	for _, v := range valid {
		if err := ValidateIdentifier(v); err != nil {
			t.Errorf("expected %q to be valid, got %v", v, err)
		}
	}
	for _, v := range invalid {
		if err := ValidateIdentifier(v); err == nil {
			t.Errorf("expected %q to be invalid", v)
		}
	}
}
