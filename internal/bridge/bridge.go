// Package bridge implements the identifier-keyed RPC protocol carrying
// privileged operation calls from unprivileged page context to the host
// and their completion events back.
//
// The page issues a call through an exposed binding with an envelope
// {op, id, payload}; the host dispatches the op through a closed handler
// table and reports completion by evaluating the delivery hook in the
// page, keyed by the same id. Every id receives at most one terminal
// event; late or duplicate events are logged and dropped.
package bridge

import (
	"sync"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/robertheadley/playwright-userscript-manager/internal/storage"
)

// Names of the two page-global hooks the protocol rides on. BindingName
// is the host-exposed callable; DeliverName is defined by the page shim.
const (
	BindingName = "__usmBridge"
	DeliverName = "__usmDeliver"
)

// Operation names accepted by the dispatch table.
const (
	OpValueSet       = "value.set"
	OpValueGet       = "value.get"
	OpValueDelete    = "value.delete"
	OpValueList      = "value.list"
	OpXHRStart       = "xhr.start"
	OpXHRAbort       = "xhr.abort"
	OpTabOpen        = "tab.open"
	OpClipboardSet   = "clipboard.set"
	OpNotify         = "notify"
	OpMenuRegister   = "menu.register"
	OpMenuUnregister = "menu.unregister"
)

// Event kinds delivered back to the page. All current kinds are terminal.
const (
	EventResult  = "result"
	EventError   = "error"
	EventLoad    = "load"
	EventAbort   = "abort"
	EventTimeout = "timeout"
)

// Page is the slice of the browser driver the bridge needs: evaluating
// the delivery hook and opening sibling tabs.
type Page interface {
	Eval(js string, args ...interface{}) ([]byte, error)
	OpenTab(url string) error
}

// call is one decoded envelope.
type call struct {
	id      int64
	op      string
	payload gjson.Result
}

// pendingRequest tracks one in-flight call until its terminal event.
// Only xhr.start arms cancellation; for other ops the entry exists just
// to enforce exactly-once retirement.
type pendingRequest struct {
	op string

	mu     sync.Mutex
	reason string
	cancel func()
}

// interrupt records the first cancellation reason and cancels the
// underlying call if one is armed.
func (p *pendingRequest) interrupt(reason string) {
	p.mu.Lock()
	if p.reason == "" {
		p.reason = reason
	}
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// arm installs the cancel func, honoring an interrupt that arrived
// before the underlying call existed.
func (p *pendingRequest) arm(cancel func()) {
	p.mu.Lock()
	p.cancel = cancel
	interrupted := p.reason != ""
	p.mu.Unlock()
	if interrupted {
		cancel()
	}
}

func (p *pendingRequest) takeReason() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reason
}

type handler struct {
	fn func(*call)
	// async handlers (network calls) run on their own goroutine; the
	// rest execute serially to preserve call order against the shared
	// store.
	async bool
}

// Bridge dispatches privileged calls for one page instance.
type Bridge struct {
	store  *storage.Store
	xhr    *xhrClient
	logger *zap.Logger

	handlers map[string]handler
	serialMu sync.Mutex

	mu      sync.Mutex
	page    Page
	pending map[int64]*pendingRequest
	closed  bool

	menuMu sync.Mutex
	menu   []string
}

// New creates a bridge over the given store. BindPage must be called
// before any call can be delivered.
func New(store *storage.Store, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Bridge{
		store:   store,
		xhr:     newXHRClient(logger),
		logger:  logger,
		pending: make(map[int64]*pendingRequest),
	}
	b.handlers = map[string]handler{
		OpValueSet:       {fn: b.handleValueSet},
		OpValueGet:       {fn: b.handleValueGet},
		OpValueDelete:    {fn: b.handleValueDelete},
		OpValueList:      {fn: b.handleValueList},
		OpXHRStart:       {fn: b.handleXHRStart, async: true},
		OpXHRAbort:       {fn: b.handleXHRAbort},
		OpTabOpen:        {fn: b.handleTabOpen},
		OpClipboardSet:   {fn: b.handleClipboardSet},
		OpNotify:         {fn: b.handleNotify},
		OpMenuRegister:   {fn: b.handleMenuRegister},
		OpMenuUnregister: {fn: b.handleMenuUnregister},
	}
	return b
}

// BindPage attaches the page the bridge serves.
func (b *Bridge) BindPage(p Page) {
	b.mu.Lock()
	b.page = p
	b.mu.Unlock()
}

// HandleRaw is the entry point wired to the exposed page binding. The
// raw bytes are the JSON envelope as sent by the shim. It never returns
// an error to the page; failures surface as error events or logs.
func (b *Bridge) HandleRaw(raw []byte) (interface{}, error) {
	op := gjson.GetBytes(raw, "op").String()
	id := gjson.GetBytes(raw, "id").Int()
	c := &call{id: id, op: op, payload: gjson.GetBytes(raw, "payload")}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		b.logger.Debug("dropping bridge call after close", zap.String("op", op), zap.Int64("id", id))
		return nil, nil
	}
	if id > 0 {
		if _, dup := b.pending[id]; dup {
			b.mu.Unlock()
			b.logger.Warn("duplicate bridge request id, ignoring call",
				zap.String("op", op), zap.Int64("id", id))
			return nil, nil
		}
		b.pending[id] = &pendingRequest{op: op}
	}
	b.mu.Unlock()

	h, ok := b.handlers[op]
	if !ok {
		b.logger.Warn("unknown bridge operation", zap.String("op", op), zap.Int64("id", id))
		b.Deliver(id, EventError, map[string]interface{}{"error": "unknown operation: " + op})
		return nil, nil
	}

	if h.async {
		go h.fn(c)
	} else {
		b.serialMu.Lock()
		h.fn(c)
		b.serialMu.Unlock()
	}
	return nil, nil
}

const deliverJS = `(id, kind, payload) => {
	if (window.` + DeliverName + `) { window.` + DeliverName + `(id, kind, payload); }
}`

// Deliver sends a terminal event for id into the page and retires the
// identifier. A second delivery for the same id, or a delivery after
// close, is logged and dropped. Calls with id <= 0 are notifications
// and never receive events.
func (b *Bridge) Deliver(id int64, kind string, payload interface{}) {
	if id <= 0 {
		return
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		b.logger.Debug("dropping bridge event after close", zap.Int64("id", id), zap.String("kind", kind))
		return
	}
	if _, ok := b.pending[id]; !ok {
		b.mu.Unlock()
		b.logger.Warn("dropping late or duplicate bridge event",
			zap.Int64("id", id), zap.String("kind", kind))
		return
	}
	delete(b.pending, id)
	page := b.page
	b.mu.Unlock()

	if page == nil {
		b.logger.Warn("bridge event has no page to deliver to",
			zap.Int64("id", id), zap.String("kind", kind))
		return
	}
	if _, err := page.Eval(deliverJS, id, kind, payload); err != nil {
		// No durable delivery guarantee across the boundary.
		b.logger.Warn("bridge event undeliverable",
			zap.Int64("id", id), zap.String("kind", kind), zap.Error(err))
	}
}

// lookupPending returns the live entry for id, if any.
func (b *Bridge) lookupPending(id int64) (*pendingRequest, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.pending[id]
	return p, ok
}

// Close is the page-closure signal: every pending call is cancelled and
// retired without a terminal event, and later calls and events are
// dropped. Safe to call more than once.
func (b *Bridge) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	pending := b.pending
	b.pending = make(map[int64]*pendingRequest)
	b.mu.Unlock()

	for id, p := range pending {
		b.logger.Debug("retiring pending bridge request on close",
			zap.Int64("id", id), zap.String("op", p.op))
		p.interrupt("closed")
	}
}
