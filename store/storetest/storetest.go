// Package storetest opens throwaway SQLite databases for tests in other packages.
package storetest

import (
	"context"
	"path/filepath"
	"testing"

	"phonesim/config"
	"phonesim/store"
)

// New opens a fresh database in t.TempDir seeded with the default catalog.
func New(t testing.TB) *store.DB {
	t.Helper()
	db, err := store.Open(&config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "test.db")},
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.SeedCatalog(context.Background(), &config.Defaults().Catalog); err != nil {
		t.Fatalf("seed test db: %v", err)
	}
	return db
}

// Phone returns the seeded phone with the given model name.
func Phone(t testing.TB, db *store.DB, model string) *store.Phone {
	t.Helper()
	p, err := db.GetPhoneByModel(context.Background(), model)
	if err != nil {
		t.Fatalf("phone %s: %v", model, err)
	}
	return p
}

// Part returns the seeded part with the given name.
func Part(t testing.TB, db *store.DB, name string) *store.Part {
	t.Helper()
	p, err := db.GetPartByName(context.Background(), name)
	if err != nil {
		t.Fatalf("part %s: %v", name, err)
	}
	return p
}
