package bridge

import (
	"encoding/json"
	"errors"

	"github.com/atotto/clipboard"
	"go.uber.org/zap"
)

// clipboardWrite is swappable so tests do not touch the real clipboard.
var clipboardWrite = clipboard.WriteAll

var errNoPage = errors.New("no page bound to bridge")

// The storage handlers complete only after the store's write-through has
// been attempted; Set and Delete block on it internally.

func (b *Bridge) handleValueSet(c *call) {
	key := c.payload.Get("key").String()
	value := c.payload.Get("value")
	if !value.Exists() {
		b.Deliver(c.id, EventError, map[string]interface{}{"error": "value.set requires a value"})
		return
	}
	b.store.Set(key, json.RawMessage(value.Raw))
	b.Deliver(c.id, EventResult, map[string]interface{}{"ok": true})
}

func (b *Bridge) handleValueGet(c *call) {
	key := c.payload.Get("key").String()
	v, ok := b.store.Get(key)
	if !ok {
		// The page-side shim substitutes the caller's default.
		b.Deliver(c.id, EventResult, map[string]interface{}{"found": false})
		return
	}
	b.Deliver(c.id, EventResult, map[string]interface{}{"found": true, "value": v})
}

func (b *Bridge) handleValueDelete(c *call) {
	b.store.Delete(c.payload.Get("key").String())
	b.Deliver(c.id, EventResult, map[string]interface{}{"ok": true})
}

func (b *Bridge) handleValueList(c *call) {
	b.Deliver(c.id, EventResult, map[string]interface{}{"keys": b.store.List()})
}

func (b *Bridge) handleTabOpen(c *call) {
	url := c.payload.Get("url").String()

	b.mu.Lock()
	page := b.page
	b.mu.Unlock()
	if page == nil {
		b.Deliver(c.id, EventError, map[string]interface{}{"error": "no page bound"})
		return
	}
	if err := page.OpenTab(url); err != nil {
		b.logger.Warn("open-tab failed", zap.String("url", url), zap.Error(err))
		b.Deliver(c.id, EventError, map[string]interface{}{"error": err.Error()})
		return
	}
	b.Deliver(c.id, EventResult, map[string]interface{}{"ok": true})
}

func (b *Bridge) handleClipboardSet(c *call) {
	text := c.payload.Get("text").String()
	if err := clipboardWrite(text); err != nil {
		b.logger.Warn("set-clipboard failed", zap.Error(err))
		b.Deliver(c.id, EventError, map[string]interface{}{"error": err.Error()})
		return
	}
	b.Deliver(c.id, EventResult, map[string]interface{}{"ok": true})
}

func (b *Bridge) handleNotify(c *call) {
	b.logger.Info("userscript notification",
		zap.String("title", c.payload.Get("title").String()),
		zap.String("text", c.payload.Get("text").String()))
	b.Deliver(c.id, EventResult, map[string]interface{}{"ok": true})
}

// Menu commands live in the page shim's registry; the host only records
// names so they can be listed and triggered externally.

func (b *Bridge) handleMenuRegister(c *call) {
	name := c.payload.Get("name").String()
	if name == "" {
		return
	}
	b.menuMu.Lock()
	defer b.menuMu.Unlock()
	for _, existing := range b.menu {
		if existing == name {
			return
		}
	}
	b.menu = append(b.menu, name)
	b.logger.Debug("menu command registered", zap.String("name", name))
}

func (b *Bridge) handleMenuUnregister(c *call) {
	name := c.payload.Get("name").String()
	b.menuMu.Lock()
	defer b.menuMu.Unlock()
	for i, existing := range b.menu {
		if existing == name {
			b.menu = append(b.menu[:i], b.menu[i+1:]...)
			return
		}
	}
}

// MenuCommands returns the names scripts have registered so far.
func (b *Bridge) MenuCommands() []string {
	b.menuMu.Lock()
	defer b.menuMu.Unlock()
	out := make([]string, len(b.menu))
	copy(out, b.menu)
	return out
}

// InvokeMenuCommand triggers a registered command by name inside the
// page. The registry itself stays page-owned.
func (b *Bridge) InvokeMenuCommand(name string) error {
	b.mu.Lock()
	page := b.page
	b.mu.Unlock()
	if page == nil {
		return errNoPage
	}
	_, err := page.Eval(`(name) => { if (window.__usmMenu) { window.__usmMenu.invoke(name); } }`, name)
	return err
}
