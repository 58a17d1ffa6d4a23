package commands

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/weldcode/weld/pkg/engine"
)

func newDevCommand() *cobra.Command {
	var watchDir string

	cmd := &cobra.Command{
		Use:   "dev <session-id>",
		Short: "Sync a local project mirror into the sandbox",
		Long: `Watch a local project directory and push every change into the
session's sandbox as a policy-gated mutation. The sandbox dev server
hot-reloads the preview on each sync.

Changes are debounced so editors that write multiple times per save
produce a single mutation.`,
		Example: `  # Sync the current directory
  weld dev SESSION

  # Sync an explicit mirror
  weld dev SESSION --dir ./my-app`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.cleanup()

			dir := watchDir
			if dir == "" {
				dir = app.config.Dev.WatchDir
			}
			if dir == "" {
				dir = "."
			}
			abs, err := filepath.Abs(dir)
			if err != nil {
				return err
			}

			loop := &syncLoop{
				engine:    app.engine,
				sessionID: args[0],
				root:      abs,
				debounce:  app.config.Dev.Debounce.Std(),
				ignore:    app.config.Dev.Ignore,
			}
			return loop.run(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&watchDir, "dir", "", "local directory to watch")

	return cmd
}

// syncLoop pushes local filesystem changes through the mutation pipeline.
type syncLoop struct {
	engine    *engine.Engine
	sessionID string
	root      string
	debounce  time.Duration
	ignore    []string
}

func (l *syncLoop) run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := l.watchTree(watcher, l.root); err != nil {
		return err
	}

	// Resolve up front so the first sync is not also paying for sandbox
	// creation.
	res, err := l.engine.ResolveSandbox(ctx, l.sessionID)
	if err != nil {
		return err
	}
	log.Info().
		Str("session_id", l.sessionID).
		Str("dir", l.root).
		Str("preview", res.PreviewURL).
		Msg("dev sync started")

	pending := make(map[string]fsnotify.Op)
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if l.ignored(event.Name) {
				continue
			}
			if event.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := l.watchTree(watcher, event.Name); err != nil {
						log.Warn().Err(err).Str("dir", event.Name).Msg("failed to watch new directory")
					}
					continue
				}
			}
			pending[event.Name] |= event.Op
			if timer == nil {
				timer = time.NewTimer(l.debounce)
			} else {
				timer.Reset(l.debounce)
			}
			timerC = timer.C

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("watcher error")

		case <-timerC:
			batch := pending
			pending = make(map[string]fsnotify.Op)
			timerC = nil
			l.flush(ctx, batch)
		}
	}
}

// flush applies a debounced batch of file events, one mutation each.
func (l *syncLoop) flush(ctx context.Context, batch map[string]fsnotify.Op) {
	for path, op := range batch {
		rel, err := filepath.Rel(l.root, path)
		if err != nil {
			continue
		}
		rel = filepath.ToSlash(rel)

		req := engine.MutationRequest{Path: rel}
		if op.Has(fsnotify.Remove) || op.Has(fsnotify.Rename) {
			req.Op = engine.OpDelete
		} else {
			data, rerr := os.ReadFile(path)
			if rerr != nil {
				if errors.Is(rerr, fs.ErrNotExist) {
					req.Op = engine.OpDelete
				} else {
					log.Warn().Err(rerr).Str("path", rel).Msg("failed to read changed file")
					continue
				}
			} else {
				req.Op = engine.OpWrite
				req.Content = string(data)
			}
		}

		result, err := l.engine.MutateFile(ctx, l.sessionID, req)
		if err != nil {
			log.Error().Err(err).Str("path", rel).Msg("sync failed")
			continue
		}
		if !result.Applied {
			for _, v := range result.Violations {
				log.Warn().
					Str("path", rel).
					Str("policy", v.Policy).
					Msg(v.Message)
			}
			continue
		}
		log.Info().Str("path", rel).Str("op", string(req.Op)).Msg("synced")
	}
}

// watchTree registers dir and every subdirectory with the watcher.
func (l *syncLoop) watchTree(watcher *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if l.ignored(path) {
			return filepath.SkipDir
		}
		return watcher.Add(path)
	})
}

func (l *syncLoop) ignored(path string) bool {
	rel, err := filepath.Rel(l.root, path)
	if err != nil {
		return false
	}
	for _, pattern := range l.ignore {
		for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
			if part == pattern {
				return true
			}
		}
	}
	return false
}
