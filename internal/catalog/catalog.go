// Package catalog loads the set of userscripts available for a run and
// derives per-URL injection plans from it.
package catalog

import (
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"

	"github.com/robertheadley/playwright-userscript-manager/internal/userscript"
)

// Catalog is the immutable set of parsed, validated scripts for a run.
type Catalog struct {
	// Dir is the directory the catalog was loaded from.
	Dir string
	// Scripts holds the valid scripts in discovery (lexical) order.
	Scripts []*userscript.Script

	logger *zap.Logger
}

// Load builds a catalog from every *.user.js file under dir. Problems
// degrade rather than fail: a missing directory yields an empty catalog,
// unreadable files are skipped, and scripts without a single valid
// @match pattern are excluded entirely.
func Load(dir string, logger *zap.Logger) *Catalog {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Catalog{Dir: dir, logger: logger}

	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		logger.Warn("script directory unavailable, starting with empty catalog",
			zap.String("dir", dir), zap.Error(err))
		return c
	}

	paths, err := filepath.Glob(filepath.Join(dir, "*"+userscript.Suffix))
	if err != nil {
		logger.Warn("script directory scan failed", zap.String("dir", dir), zap.Error(err))
		return c
	}
	sort.Strings(paths)

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("skipping unreadable script", zap.String("path", path), zap.Error(err))
			continue
		}
		s := userscript.Parse(path, string(data), logger)
		if len(s.Patterns) == 0 {
			logger.Warn("skipping script without valid @match patterns",
				zap.String("path", path), zap.String("name", s.Name))
			continue
		}
		c.Scripts = append(c.Scripts, s)
	}

	logger.Info("catalog loaded",
		zap.String("dir", dir),
		zap.Int("scripts", len(c.Scripts)))
	return c
}

// Len returns the number of scripts in the catalog.
func (c *Catalog) Len() int {
	return len(c.Scripts)
}

// Plan holds the scripts that apply to one target URL, partitioned by
// injection phase. Within each phase the catalog discovery order is
// preserved, and a script appears in exactly one phase.
type Plan struct {
	URL   string
	Start []*userscript.Script
	End   []*userscript.Script
	Idle  []*userscript.Script
}

// Plan derives the injection plan for url.
func (c *Catalog) Plan(url string) *Plan {
	p := &Plan{URL: url}
	for _, s := range c.Scripts {
		if !s.AppliesTo(url) {
			continue
		}
		switch s.RunAt {
		case userscript.DocumentEnd:
			p.End = append(p.End, s)
		case userscript.DocumentIdle:
			p.Idle = append(p.Idle, s)
		default:
			p.Start = append(p.Start, s)
		}
	}
	return p
}

// Total returns the number of scripts across all phases.
func (p *Plan) Total() int {
	return len(p.Start) + len(p.End) + len(p.Idle)
}
