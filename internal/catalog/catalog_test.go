package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robertheadley/playwright-userscript-manager/internal/userscript"
)

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func scriptNames(scripts []*userscript.Script) []string {
	names := make([]string, 0, len(scripts))
	for _, s := range scripts {
		names = append(names, s.Name)
	}
	return names
}

func TestLoadDiscoveryOrderAndPhases(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "a.user.js", `// ==UserScript==
// @name A
// @match https://example.com/*
// @run-at document-idle
// ==/UserScript==
`)
	writeScript(t, dir, "b.user.js", `// ==UserScript==
// @name B
// @match https://example.com/*
// @run-at document-idle
// ==/UserScript==
`)
	writeScript(t, dir, "c.user.js", `// ==UserScript==
// @name C
// @match https://example.com/*
// @run-at document-idle
// ==/UserScript==
`)
	writeScript(t, dir, "d.user.js", `// ==UserScript==
// @name D
// @match https://example.com/*
// ==/UserScript==
`)
	writeScript(t, dir, "notes.txt", "not a script")

	c := Load(dir, nil)
	require.Equal(t, 4, c.Len())

	plan := c.Plan("https://example.com/page")
	if diff := cmp.Diff([]string{"A", "B", "C"}, scriptNames(plan.Idle)); diff != "" {
		t.Errorf("idle phase order mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"D"}, scriptNames(plan.Start)); diff != "" {
		t.Errorf("start phase mismatch (-want +got):\n%s", diff)
	}
	assert.Empty(t, plan.End)
	assert.Equal(t, 4, plan.Total())
}

func TestPlanScriptAppearsOncePerPhase(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "multi.user.js", `// ==UserScript==
// @name Multi
// @match https://example.com/*
// @match *://*.example.com/*
// @run-at document-end
// ==/UserScript==
`)

	c := Load(dir, nil)
	plan := c.Plan("https://example.com/both-patterns-match")
	require.Len(t, plan.End, 1)
	assert.Empty(t, plan.Start)
	assert.Empty(t, plan.Idle)
}

func TestLoadExcludesScriptsWithoutValidPatterns(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "none.user.js", `// ==UserScript==
// @name NoMatch
// ==/UserScript==
`)
	writeScript(t, dir, "invalid.user.js", `// ==UserScript==
// @name Invalid
// @match ftp://example.com/*
// ==/UserScript==
`)

	c := Load(dir, nil)
	assert.Zero(t, c.Len())
	assert.Zero(t, c.Plan("https://example.com/").Total())
}

func TestLoadMissingDirectoryDegradesToEmpty(t *testing.T) {
	c := Load(filepath.Join(t.TempDir(), "does-not-exist"), nil)
	assert.Zero(t, c.Len())
}

func TestPlanNonMatchingURL(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "a.user.js", `// ==UserScript==
// @match https://example.com/*
// ==/UserScript==
`)
	c := Load(dir, nil)
	require.Equal(t, 1, c.Len())
	assert.Zero(t, c.Plan("https://other.net/").Total())
}

func TestWatchSignalsOnScriptChange(t *testing.T) {
	dir := t.TempDir()
	c := Load(dir, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	changed := make(chan struct{}, 1)
	done := make(chan error, 1)
	go func() {
		done <- c.Watch(ctx, func() {
			select {
			case changed <- struct{}{}:
			default:
			}
		})
	}()

	// Give the watcher a moment to attach before mutating the dir.
	time.Sleep(100 * time.Millisecond)
	writeScript(t, dir, "new.user.js", "// ==UserScript==\n// @match <all_urls>\n// ==/UserScript==\n")

	select {
	case <-changed:
	case <-ctx.Done():
		t.Fatal("watcher did not signal before timeout")
	}

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
