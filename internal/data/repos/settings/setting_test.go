package settings

import (
	"context"
	"testing"
	"time"

	"github.com/castellan/chatvault/internal/data/repos/testutil"
	"github.com/castellan/chatvault/internal/pkg/dbctx"
)

func TestSetGetUpsert(t *testing.T) {
	tx := testutil.Tx(t, testutil.DB(t))
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	repo := NewSettingRepo(tx, testutil.Logger(t))

	if err := repo.Set(dbc, "watch_folder_enabled", "true", "watch_folder"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if got := repo.GetString(dbc, "watch_folder_enabled", "false"); got != "true" {
		t.Fatalf("get: %q", got)
	}

	// Second Set overwrites in place.
	if err := repo.Set(dbc, "watch_folder_enabled", "false", "watch_folder"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	s, err := repo.Get(dbc, "watch_folder_enabled")
	if err != nil || s == nil {
		t.Fatalf("get row: %v %v", s, err)
	}
	if s.Value != "false" || s.Category != "watch_folder" {
		t.Fatalf("row: %+v", s)
	}
}

func TestGetStringDefault(t *testing.T) {
	tx := testutil.Tx(t, testutil.DB(t))
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	repo := NewSettingRepo(tx, testutil.Logger(t))

	if got := repo.GetString(dbc, "never_set", "fallback"); got != "fallback" {
		t.Fatalf("default: %q", got)
	}
}

func TestTouchWritesParseableTimestamp(t *testing.T) {
	tx := testutil.Tx(t, testutil.DB(t))
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	repo := NewSettingRepo(tx, testutil.Logger(t))

	if err := repo.Touch(dbc, "embedding_worker_heartbeat", "heartbeat"); err != nil {
		t.Fatalf("touch: %v", err)
	}
	s, err := repo.Get(dbc, "embedding_worker_heartbeat")
	if err != nil || s == nil {
		t.Fatalf("get: %v %v", s, err)
	}
	at, err := time.Parse(time.RFC3339, s.Value)
	if err != nil {
		t.Fatalf("heartbeat value not RFC3339: %q", s.Value)
	}
	if time.Since(at) > time.Minute {
		t.Fatalf("heartbeat too old: %v", at)
	}
}
