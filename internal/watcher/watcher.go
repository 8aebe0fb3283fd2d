// Package watcher polls a drop folder for conversation exports and
// feeds them to the importer. Processed files move to archive/, broken
// ones to failed/ with an .error.txt sidecar, so the folder itself is
// the operator's status display.
package watcher

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	settingsrepo "github.com/castellan/chatvault/internal/data/repos/settings"
	domainsettings "github.com/castellan/chatvault/internal/domain/settings"
	"github.com/castellan/chatvault/internal/importer"
	"github.com/castellan/chatvault/internal/pkg/dbctx"
	"github.com/castellan/chatvault/internal/platform/logger"
)

const (
	archiveDir = "archive"
	failedDir  = "failed"
	probeFile  = ".watch_folder_test"

	DefaultPollInterval = 60 * time.Second
	heartbeatInterval   = 30 * time.Second
	// debounce delays the fsnotify-triggered scan so a file being
	// written lands complete before we read it.
	debounce = 2 * time.Second
)

// ImportFunc decouples the watcher from the import service; tests stub it.
type ImportFunc func(ctx context.Context, payload interface{}) (*importer.Result, error)

type Watcher struct {
	log         *logger.Logger
	settingRepo settingsrepo.SettingRepo
	importFn    ImportFunc

	defaultPath     string
	defaultInterval time.Duration
	now             func() time.Time
}

func New(log *logger.Logger, settingRepo settingsrepo.SettingRepo, importFn ImportFunc, defaultPath string) *Watcher {
	return &Watcher{
		log:             log.With("component", "WatchFolder"),
		settingRepo:     settingRepo,
		importFn:        importFn,
		defaultPath:     defaultPath,
		defaultInterval: DefaultPollInterval,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// Run blocks until ctx is cancelled. Settings are re-read every cycle,
// so enabling the watcher or moving the folder needs no restart.
func (w *Watcher) Run(ctx context.Context) error {
	notify := w.startNotify(ctx)
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	timer := time.NewTimer(w.interval(ctx))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-heartbeat.C:
			w.touch(ctx, domainsettings.KeyWatchFolderHeartbeat)
		case <-notify:
			// An event means a file just arrived; scan early after a
			// settle delay instead of waiting out the full interval.
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(debounce)
		case <-timer.C:
			w.Scan(ctx)
			timer.Reset(w.interval(ctx))
		}
	}
}

// startNotify wires fsnotify on the current folder. Failure is fine;
// polling alone still satisfies the contract.
func (w *Watcher) startNotify(ctx context.Context) <-chan struct{} {
	out := make(chan struct{}, 1)
	path := w.folder(ctx)
	if path == "" {
		return out
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.log.Warn("fsnotify unavailable, relying on polling", "error", err)
		return out
	}
	if err := fsw.Add(path); err != nil {
		w.log.Warn("Cannot watch folder, relying on polling", "path", path, "error", err)
		fsw.Close()
		return out
	}
	go func() {
		defer fsw.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				select {
				case out <- struct{}{}:
				default:
				}
			case _, ok := <-fsw.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return out
}

// Scan runs one pass: probe writability, enumerate drops, import each.
func (w *Watcher) Scan(ctx context.Context) {
	w.touch(ctx, domainsettings.KeyWatchFolderLastCheck)
	if !w.enabled(ctx) {
		return
	}
	path := w.folder(ctx)
	if path == "" {
		return
	}
	if err := w.probe(path); err != nil {
		w.log.Warn("Watch folder not writable, skipping scan", "path", path, "error", err)
		return
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		w.log.Error("Cannot read watch folder", "path", path, "error", err)
		return
	}
	for _, entry := range entries {
		if ctx.Err() != nil {
			return
		}
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".json" && ext != ".zip" {
			continue
		}
		w.processFile(ctx, path, entry.Name())
	}
}

func (w *Watcher) processFile(ctx context.Context, dir, name string) {
	full := filepath.Join(dir, name)
	log := w.log.With("file", name)

	var result *importer.Result
	var err error
	if strings.EqualFold(filepath.Ext(name), ".zip") {
		result, err = w.importZip(ctx, full)
	} else {
		result, err = w.importJSON(ctx, full)
	}
	if err != nil {
		log.Error("Import failed", "error", err)
		w.moveToFailed(dir, name, err)
		return
	}
	log.Info("Imported drop",
		"format", result.Format, "imported", result.Imported, "updated", result.Updated,
		"skipped", result.Skipped, "failed", result.Failed, "messages", result.MessagesAdded)
	if err := w.moveToArchive(dir, name); err != nil {
		log.Error("Archive move failed", "error", err)
	}
}

func (w *Watcher) importJSON(ctx context.Context, full string) (*importer.Result, error) {
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	var payload interface{}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}
	return w.importFn(ctx, payload)
}

func (w *Watcher) importZip(ctx context.Context, full string) (*importer.Result, error) {
	tmp, err := os.MkdirTemp("", "chatvault-drop-*")
	if err != nil {
		return nil, fmt.Errorf("temp dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	if err := extractZip(full, tmp); err != nil {
		return nil, err
	}
	conv, err := findConversationsJSON(tmp)
	if err != nil {
		return nil, err
	}
	return w.importJSON(ctx, conv)
}

// probe verifies the folder accepts writes before we commit to moving
// files around in it.
func (w *Watcher) probe(dir string) error {
	p := filepath.Join(dir, probeFile)
	if err := os.WriteFile(p, []byte(w.now().Format(time.RFC3339)), 0o644); err != nil {
		return err
	}
	return os.Remove(p)
}

func (w *Watcher) moveToArchive(dir, name string) error {
	return w.moveStamped(dir, name, archiveDir, w.now().Format("20060102T150405Z"))
}

func (w *Watcher) moveToFailed(dir, name string, cause error) {
	stamp := w.now().Format("20060102T150405Z")
	if err := w.moveStamped(dir, name, failedDir, stamp); err != nil {
		w.log.Error("Failed move failed", "file", name, "error", err)
		return
	}
	note := fmt.Sprintf("file: %s\ntime: %s\nerror: %s\n",
		name, w.now().Format(time.RFC3339), cause.Error())
	sidecar := filepath.Join(dir, failedDir, stampedName(name, stamp)+".error.txt")
	if err := os.WriteFile(sidecar, []byte(note), 0o644); err != nil {
		w.log.Error("Sidecar write failed", "file", name, "error", err)
	}
}

func (w *Watcher) moveStamped(dir, name, sub, stamp string) error {
	dst := filepath.Join(dir, sub)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return err
	}
	return os.Rename(filepath.Join(dir, name), filepath.Join(dst, stampedName(name, stamp)))
}

// stampedName inserts the UTC stamp before the extension:
// export.json -> export.20260102T030405Z.json.
func stampedName(name, stamp string) string {
	ext := filepath.Ext(name)
	return strings.TrimSuffix(name, ext) + "." + stamp + ext
}

func (w *Watcher) enabled(ctx context.Context) bool {
	v := w.settingRepo.GetString(dbctx.New(ctx), domainsettings.KeyWatchFolderEnabled, "false")
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

func (w *Watcher) folder(ctx context.Context) string {
	return w.settingRepo.GetString(dbctx.New(ctx), domainsettings.KeyWatchFolderPath, w.defaultPath)
}

func (w *Watcher) interval(ctx context.Context) time.Duration {
	v := w.settingRepo.GetString(dbctx.New(ctx), domainsettings.KeyWatchFolderInterval, "")
	if v == "" {
		return w.defaultInterval
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return w.defaultInterval
	}
	return time.Duration(secs) * time.Second
}

func (w *Watcher) touch(ctx context.Context, key string) {
	if err := w.settingRepo.Touch(dbctx.New(ctx), key, domainsettings.CategoryHeartbeat); err != nil {
		w.log.Warn("Heartbeat write failed", "key", key, "error", err)
	}
}
