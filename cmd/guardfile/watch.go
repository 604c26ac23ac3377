package main

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/guardfile/guardfile"
)

func newWatchCmd(log *slog.Logger) *cobra.Command {
	var (
		policyPath string
		overrides  []string
		settleMS   int
		hashAlgo   string
		auditDB    string
	)

	cmd := &cobra.Command{
		Use:   "watch [dirs...]",
		Short: "Scan files as they appear in watched directories",
		Long: `Watch monitors directories recursively and scans every file that is
created or modified, once writes have settled. Reports stream to stdout as
JSON lines until interrupted.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			policy, err := loadEffectivePolicy(policyPath, overrides)
			if err != nil {
				return err
			}
			algorithm, err := guardfile.ParseAlgorithm(hashAlgo)
			if err != nil {
				return err
			}

			opts := []guardfile.Option{
				guardfile.WithLogger(log),
				guardfile.WithPolicy(policy),
				guardfile.WithDigestAlgorithm(algorithm),
			}
			if auditDB != "" {
				store, err := guardfile.OpenAuditStore(auditDB)
				if err != nil {
					log.Warn("audit store unavailable", "path", auditDB, "err", err)
				} else {
					opts = append(opts, guardfile.WithAuditStore(store))
				}
			}
			engine, err := guardfile.New(opts...)
			if err != nil {
				return err
			}
			defer engine.Close()

			settle := time.Duration(settleMS) * time.Millisecond
			return runWatch(cmd.Context(), log, engine, args, settle)
		},
	}

	cmd.Flags().StringVar(&policyPath, "policy", "", "base policy document (YAML); empty uses the built-in default policy")
	cmd.Flags().StringArrayVar(&overrides, "policy-override", nil, "override policy document, layered onto the base (repeatable)")
	cmd.Flags().IntVar(&settleMS, "settle-ms", 500, "quiet period after the last write before a file is scanned")
	cmd.Flags().StringVar(&hashAlgo, "hash", "sha256", "content digest algorithm")
	cmd.Flags().StringVar(&auditDB, "audit-db", "", "journal decisions to this SQLite database")
	return cmd
}

func runWatch(ctx context.Context, log *slog.Logger, engine *guardfile.Engine, dirs []string, settle time.Duration) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	defer watcher.Close()

	for _, dir := range dirs {
		info, err := os.Stat(dir)
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return fmt.Errorf("watch target %s is not a directory", dir)
		}
		if err := watchRecursive(watcher, dir); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	writer := guardfile.NewReportWriter(os.Stdout)
	summary := guardfile.NewSummary()
	settler := newSettler(settle)
	log.Info("watching", "dirs", dirs, "settle", settle)

	for {
		select {
		case <-ctx.Done():
			log.Info("watch stopped", "summary", summary.String())
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			info, err := os.Stat(event.Name)
			if err != nil {
				continue // gone before we looked
			}
			if info.IsDir() {
				if event.Op&fsnotify.Create != 0 {
					if err := watchRecursive(watcher, event.Name); err != nil {
						log.Warn("cannot watch new directory", "dir", event.Name, "err", err)
					}
				}
				continue
			}
			if info.Mode().IsRegular() {
				settler.touch(event.Name)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("watch error", "err", err)

		case path := <-settler.due:
			report := engine.Scan(ctx, guardfile.FileInput(path))
			summary.Observe(report)
			if err := writer.Write(report); err != nil {
				return err
			}
		}
	}
}

// watchRecursive registers dir and every subdirectory below it.
func watchRecursive(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
}

// settler delays a path until no event has touched it for one settle
// period, so half-written files are not scanned mid-copy.
type settler struct {
	mu     sync.Mutex
	settle time.Duration
	timers map[string]*time.Timer
	due    chan string
}

func newSettler(settle time.Duration) *settler {
	return &settler{
		settle: settle,
		timers: make(map[string]*time.Timer),
		due:    make(chan string, 128),
	}
}

// touch starts or restarts the settle timer for path.
func (s *settler) touch(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[path]; ok {
		t.Reset(s.settle)
		return
	}
	s.timers[path] = time.AfterFunc(s.settle, func() {
		s.mu.Lock()
		delete(s.timers, path)
		s.mu.Unlock()
		s.due <- path
	})
}
