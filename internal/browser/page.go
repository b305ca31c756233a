package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"
	"github.com/ysmood/gson"
	"go.uber.org/zap"
)

// PageHandle wraps one rod page and exposes the narrow surface the
// scheduler and bridge need. Callers never see *rod.Page directly.
type PageHandle struct {
	ID        string
	CreatedAt time.Time

	driver *Driver
	page   *rod.Page
	logger *zap.Logger

	mu     sync.Mutex
	stops  []func() error
	closed bool
}

func newPageHandle(d *Driver, page *rod.Page, logger *zap.Logger) *PageHandle {
	return &PageHandle{
		ID:        uuid.NewString(),
		CreatedAt: time.Now(),
		driver:    d,
		page:      page,
		logger:    logger,
	}
}

// TargetID returns the DevTools target identifier.
func (p *PageHandle) TargetID() string {
	return string(p.page.TargetID)
}

// Navigate drives the page to url under the configured navigation timeout.
func (p *PageHandle) Navigate(url string) error {
	return p.page.Timeout(p.driver.cfg.NavigationTimeout()).Navigate(url)
}

// AddInitScript registers js to run in every new document before any page
// script, which is what document-start injection needs.
func (p *PageHandle) AddInitScript(js string) error {
	remove, err := p.page.EvalOnNewDocument(js)
	if err != nil {
		return fmt.Errorf("register init script: %w", err)
	}
	p.mu.Lock()
	p.stops = append(p.stops, remove)
	p.mu.Unlock()
	return nil
}

// Eval evaluates a JS function body in the page and returns the JSON-encoded
// result. A throw inside js comes back as an error.
func (p *PageHandle) Eval(js string, args ...interface{}) ([]byte, error) {
	res, err := p.page.Evaluate(&rod.EvalOptions{
		JS:           js,
		JSArgs:       args,
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, nil
	}
	return res.Value.MarshalJSON()
}

// Expose installs a window function that forwards its single JSON argument
// to fn. The page sees a promise resolving to fn's return value.
func (p *PageHandle) Expose(name string, fn func(raw []byte) (interface{}, error)) error {
	stop, err := p.page.Expose(name, func(arg gson.JSON) (interface{}, error) {
		raw, err := arg.MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("decode %s argument: %w", name, err)
		}
		return fn(raw)
	})
	if err != nil {
		return fmt.Errorf("expose %s: %w", name, err)
	}
	p.mu.Lock()
	p.stops = append(p.stops, stop)
	p.mu.Unlock()
	return nil
}

// OpenTab opens url in a fresh tab on the same browser. The new tab is not
// tracked; userscripts do not run in it unless the caller opens it properly.
func (p *PageHandle) OpenTab(url string) error {
	d := p.driver
	d.mu.RLock()
	browser := d.browser
	d.mu.RUnlock()
	if browser == nil {
		return fmt.Errorf("browser not connected")
	}
	_, err := browser.Page(proto.TargetCreateTarget{URL: url})
	return err
}

// Close tears down exposed bindings and the page itself. Idempotent.
func (p *PageHandle) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	stops := p.stops
	p.stops = nil
	p.mu.Unlock()

	for _, stop := range stops {
		if err := stop(); err != nil {
			p.logger.Debug("page cleanup", zap.String("page", p.ID), zap.Error(err))
		}
	}
	return p.page.Close()
}

// LifecycleHooks receives page lifecycle and diagnostics events. Nil hooks
// are skipped.
type LifecycleHooks struct {
	OnDOMContentLoaded func()
	OnLoad             func()
	OnConsole          func(kind, message string)
	OnPageError        func(message string)
}

// StreamLifecycle subscribes to the page's lifecycle and runtime events and
// returns a wait function that blocks until ctx is done or the page closes.
func (p *PageHandle) StreamLifecycle(ctx context.Context, hooks LifecycleHooks) func() {
	return p.page.Context(ctx).EachEvent(
		func(ev *proto.PageDomContentEventFired) {
			if hooks.OnDOMContentLoaded != nil {
				hooks.OnDOMContentLoaded()
			}
		},
		func(ev *proto.PageLoadEventFired) {
			if hooks.OnLoad != nil {
				hooks.OnLoad()
			}
		},
		func(ev *proto.RuntimeConsoleAPICalled) {
			if hooks.OnConsole != nil {
				hooks.OnConsole(string(ev.Type), stringifyConsoleArgs(ev.Args))
			}
		},
		func(ev *proto.RuntimeExceptionThrown) {
			if hooks.OnPageError == nil {
				return
			}
			msg := ev.ExceptionDetails.Text
			if ex := ev.ExceptionDetails.Exception; ex != nil && ex.Description != "" {
				msg = ex.Description
			}
			hooks.OnPageError(msg)
		},
	)
}

func stringifyConsoleArgs(args []*proto.RuntimeRemoteObject) string {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		if a == nil {
			continue
		}
		if !a.Value.Nil() {
			parts = append(parts, a.Value.String())
			continue
		}
		if a.Description != "" {
			parts = append(parts, a.Description)
		}
	}
	return strings.Join(parts, " ")
}
