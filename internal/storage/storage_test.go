package storage

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
)

type domainErr struct{}

func (domainErr) Error() string { return "domain" }
func (domainErr) DomainError()  {}

func TestOpenDrivers(t *testing.T) {
	for _, driver := range []string{DriverCGO, DriverPureGo} {
		t.Run(driver, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", "test.db")
			db, err := Open(driver, path)
			if err != nil {
				t.Fatalf("Open(%s) error = %v", driver, err)
			}
			defer db.Close()

			var mode string
			if err := db.QueryRow(`PRAGMA journal_mode;`).Scan(&mode); err != nil {
				t.Fatalf("journal_mode: %v", err)
			}
			if mode != "wal" {
				t.Errorf("journal_mode = %q, want wal", mode)
			}
		})
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open("postgres", filepath.Join(t.TempDir(), "x.db")); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestMigrateIsIncremental(t *testing.T) {
	ctx := context.Background()
	db, err := Open(DriverCGO, filepath.Join(t.TempDir(), "m.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	steps := []string{`CREATE TABLE a (id INTEGER)`}
	if err := Migrate(ctx, db, "comp", steps); err != nil {
		t.Fatalf("first Migrate: %v", err)
	}
	// re-running must not re-create table a
	steps = append(steps, `CREATE TABLE b (id INTEGER)`)
	if err := Migrate(ctx, db, "comp", steps); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
	if err := Migrate(ctx, db, "other", []string{`CREATE TABLE c (id INTEGER)`}); err != nil {
		t.Fatalf("other component: %v", err)
	}

	var version int
	if err := db.QueryRow(`SELECT version FROM schema_migrations WHERE component = 'comp'`).Scan(&version); err != nil {
		t.Fatal(err)
	}
	if version != 2 {
		t.Errorf("version = %d, want 2", version)
	}
}

func TestWithTxRollsBack(t *testing.T) {
	ctx := context.Background()
	db, err := Open(DriverCGO, filepath.Join(t.TempDir(), "tx.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	if _, err := db.Exec(`CREATE TABLE t (v INTEGER)`); err != nil {
		t.Fatal(err)
	}

	boom := errors.New("boom")
	err = WithTx(ctx, db, "insert", func(tx *sql.Tx) error {
		if _, err := tx.Exec(`INSERT INTO t (v) VALUES (1)`); err != nil {
			return err
		}
		return boom
	})
	if !IsStorageError(err) || !errors.Is(err, boom) {
		t.Fatalf("err = %v, want storage error wrapping boom", err)
	}

	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM t`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("rows = %d after rollback, want 0", n)
	}

	err = WithTx(ctx, db, "domain", func(tx *sql.Tx) error { return domainErr{} })
	if IsStorageError(err) {
		t.Errorf("domain error was reclassified: %v", err)
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap("op", nil) != nil {
		t.Error("Wrap(nil) should be nil")
	}
}
