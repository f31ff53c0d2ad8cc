package ruleset

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period Watch waits for after the last change
// before reloading.
const DefaultDebounce = 250 * time.Millisecond

// Watcher reloads a ruleset whenever one of its files changes.
type Watcher struct {
	rulePaths string
	debounce  time.Duration
	logger    *slog.Logger
	onReload  func(RuleSet)
}

// NewWatcher creates a Watcher for the same ';'-separated path list accepted
// by NewRuleset. onReload receives every successfully reloaded ruleset; a
// reload that fails to parse is logged and the previous rules stay active.
func NewWatcher(rulePaths string, logger *slog.Logger, onReload func(RuleSet)) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		rulePaths: rulePaths,
		debounce:  DefaultDebounce,
		logger:    logger.With("component", "ruleset_watcher"),
		onReload:  onReload,
	}
}

// Run blocks until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer fsw.Close()

	for _, p := range strings.Split(w.rulePaths, ";") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if err := addPath(fsw, p); err != nil {
			return fmt.Errorf("failed to watch '%s': %w", p, err)
		}
	}

	w.logger.Info("watching rulesets", "paths", w.rulePaths, "debounce_ms", w.debounce.Milliseconds())

	var timer *time.Timer
	reload := make(chan struct{}, 1)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if event.Op&fsnotify.Chmod == fsnotify.Chmod || !IsRuleFile(event.Name) {
				continue
			}
			w.logger.Debug("ruleset file changed", "path", event.Name, "op", event.Op.String())
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})

		case <-reload:
			rs, err := NewRuleset(w.rulePaths)
			if err != nil {
				w.logger.Error("ruleset reload failed", "error", err)
				continue
			}
			w.logger.Info("ruleset reloaded", "rules", rs.Count(), "domains", rs.DomainCount())
			w.onReload(rs)

		case err, ok := <-fsw.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			w.logger.Error("ruleset watcher error", "error", err)
		}
	}
}

// addPath watches every directory under a directory root, or the parent
// directory of a single file so that editors replacing the file by rename
// are still noticed.
func addPath(fsw *fsnotify.Watcher, root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fsw.Add(filepath.Dir(root))
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return fsw.Add(path)
		}
		return nil
	})
}
