package service

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	appconfig "grill-master/app/config"
	"grill-master/app/database"
	"grill-master/app/logger"
	"grill-master/app/store"
)

func newTestMaintenance(t *testing.T) (*MaintenanceService, *appconfig.Config) {
	t.Helper()

	cfg := &appconfig.Config{}
	cfg.Pipeline.Mode = appconfig.ModeMock
	cfg.Server.ProjectsDir = t.TempDir()

	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := database.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	log := logger.New(appconfig.LogConfig{Level: "error", Format: "text", Output: "stdout"})
	st := store.New(db, log)
	return NewMaintenanceService(cfg, st, log), cfg
}

func makeDeletedDir(t *testing.T, cfg *appconfig.Config, name string, age time.Duration) string {
	t.Helper()
	path := filepath.Join(cfg.Server.ProjectsDir, name)
	if err := os.MkdirAll(path, 0755); err != nil {
		t.Fatalf("mkdir %s: %v", name, err)
	}
	stamp := time.Now().Add(-age)
	if err := os.Chtimes(path, stamp, stamp); err != nil {
		t.Fatalf("chtimes %s: %v", name, err)
	}
	return path
}

// TestRunOncePurgesExpiredDeletedDirs: only _deleted_ directories past the
// seven-day retention are removed; recent ones and live project dirs stay.
func TestRunOncePurgesExpiredDeletedDirs(t *testing.T) {
	svc, cfg := newTestMaintenance(t)

	expired := makeDeletedDir(t, cfg, DeletedDirPrefix+"old", 8*24*time.Hour)
	recent := makeDeletedDir(t, cfg, DeletedDirPrefix+"recent", 24*time.Hour)
	live := makeDeletedDir(t, cfg, "project-1", 30*24*time.Hour)

	svc.RunOnce()

	if _, err := os.Stat(expired); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("expired _deleted_ dir survived the sweep")
	}
	if _, err := os.Stat(recent); err != nil {
		t.Fatalf("recent _deleted_ dir removed: %v", err)
	}
	if _, err := os.Stat(live); err != nil {
		t.Fatalf("live project dir removed: %v", err)
	}
}

// TestStartSweepsImmediately: the first sweep happens at startup, not at the
// first cron tick.
func TestStartSweepsImmediately(t *testing.T) {
	svc, cfg := newTestMaintenance(t)
	expired := makeDeletedDir(t, cfg, DeletedDirPrefix+"old", 8*24*time.Hour)

	if err := svc.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer svc.Stop()

	deadline := time.Now().Add(3 * time.Second)
	for {
		if _, err := os.Stat(expired); errors.Is(err, os.ErrNotExist) {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("startup sweep did not run")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
