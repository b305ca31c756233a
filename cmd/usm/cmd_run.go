package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/robertheadley/playwright-userscript-manager/internal/bridge"
	"github.com/robertheadley/playwright-userscript-manager/internal/browser"
	"github.com/robertheadley/playwright-userscript-manager/internal/catalog"
	"github.com/robertheadley/playwright-userscript-manager/internal/scheduler"
	"github.com/robertheadley/playwright-userscript-manager/internal/storage"
)

var (
	runWindow time.Duration
	runWatch  bool
)

// runCmd opens a page and injects matching userscripts
var runCmd = &cobra.Command{
	Use:   "run [url]",
	Short: "Open a page and inject matching userscripts",
	Long: `Opens the URL in a browser page, injects every catalog script whose
@match patterns cover it at its declared @run-at phase, and serves GM_*
calls until interrupted.

With --watch, changes to the scripts directory close the page, reload the
catalog, and run again.`,
	Args: cobra.ExactArgs(1),
	RunE: runScripts,
}

func init() {
	runCmd.Flags().DurationVar(&runWindow, "window", 0, "How long to keep the page open after load (0 = until interrupted)")
	runCmd.Flags().BoolVar(&runWatch, "watch", false, "Rerun when the scripts directory changes")
	rootCmd.AddCommand(runCmd)
}

func runScripts(cmd *cobra.Command, args []string) error {
	url := args[0]
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	window := runWindow
	if window == 0 {
		window = cfg.GetRunWindow()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := storage.Open(cfg.Storage.Path, logger)
	defer func() { _ = store.Flush() }()

	driver := browser.NewDriver(cfg.BrowserSettings(), logger)
	if err := driver.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = driver.Shutdown() }()

	if !runWatch {
		cat := catalog.Load(cfg.Scripts.Dir, logger)
		return runOnce(ctx, cat, store, driver, url, window)
	}

	for {
		cat := catalog.Load(cfg.Scripts.Dir, logger)

		runCtx, cancel := context.WithCancel(ctx)
		changed := make(chan struct{}, 1)

		g, gctx := errgroup.WithContext(runCtx)
		g.Go(func() error {
			err := cat.Watch(gctx, func() {
				select {
				case changed <- struct{}{}:
				default:
				}
				cancel()
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
		g.Go(func() error {
			return runOnce(gctx, cat, store, driver, url, window)
		})

		err := g.Wait()
		cancel()

		select {
		case <-changed:
			logger.Info("scripts changed, reloading catalog")
			continue
		default:
		}
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
}

// runOnce drives a single page lifecycle: open, wire the bridge, register
// init scripts, navigate, and pump lifecycle events until the context ends.
func runOnce(ctx context.Context, cat *catalog.Catalog, store *storage.Store, driver *browser.Driver, url string, window time.Duration) error {
	plan := cat.Plan(url)
	logger.Info("injection plan",
		zap.String("url", url),
		zap.Int("document_start", len(plan.Start)),
		zap.Int("document_end", len(plan.End)),
		zap.Int("document_idle", len(plan.Idle)))

	page, err := driver.OpenPage(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = page.Close() }()

	br := bridge.New(store, logger)
	defer br.Close()
	br.BindPage(page)
	if err := page.Expose(bridge.BindingName, br.HandleRaw); err != nil {
		return fmt.Errorf("expose bridge binding: %w", err)
	}

	sched := scheduler.New(plan, page, logger)
	if err := sched.Register(bridge.Shim()); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	wait := page.StreamLifecycle(runCtx, browser.LifecycleHooks{
		OnDOMContentLoaded: sched.OnDOMContentLoaded,
		OnLoad: func() {
			sched.OnLoad()
			if window > 0 {
				time.AfterFunc(window, cancel)
			}
		},
		OnConsole: func(kind, message string) {
			logger.Debug("page console", zap.String("kind", kind), zap.String("message", message))
		},
		OnPageError: func(message string) {
			logger.Warn("page error", zap.String("message", message))
		},
	})

	g := new(errgroup.Group)
	g.Go(func() error {
		wait()
		return nil
	})

	if err := page.Navigate(url); err != nil {
		cancel()
		_ = g.Wait()
		sched.Abandon()
		return fmt.Errorf("navigate %s: %w", url, err)
	}

	_ = g.Wait()
	sched.Abandon()
	return store.Flush()
}
