package catalog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/robertheadley/playwright-userscript-manager/internal/userscript"
)

// watchDebounce coalesces editor write bursts into one change signal.
const watchDebounce = 250 * time.Millisecond

// Watch blocks watching the catalog directory for userscript changes and
// invokes onChange (debounced) for each create/write/remove burst.
// It returns when ctx is done or the watcher fails. The catalog itself
// stays immutable; callers rebuild with Load when signalled.
func (c *Catalog) Watch(ctx context.Context, onChange func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(c.Dir); err != nil {
		return fmt.Errorf("watch %s: %w", c.Dir, err)
	}

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !strings.HasSuffix(ev.Name, userscript.Suffix) {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			c.logger.Debug("script change detected",
				zap.String("path", ev.Name), zap.String("op", ev.Op.String()))
			pending = time.After(watchDebounce)
		case werr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			c.logger.Warn("script watcher error", zap.Error(werr))
		case <-pending:
			pending = nil
			onChange()
		}
	}
}
