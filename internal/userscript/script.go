// Package userscript parses userscript sources and their metadata
// directives into immutable catalog records.
package userscript

import (
	"bufio"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/robertheadley/playwright-userscript-manager/internal/match"
)

// Suffix is the file naming convention for userscripts.
const Suffix = ".user.js"

// Phase identifies the page-lifecycle moment a script is delivered at.
type Phase string

const (
	DocumentStart Phase = "document-start"
	DocumentEnd   Phase = "document-end"
	DocumentIdle  Phase = "document-idle"
)

// DefaultPhase is used when @run-at is absent or unrecognized.
const DefaultPhase = DocumentStart

// ParsePhase normalizes a @run-at value. ok is false when the value is
// not one of the three known phases; the returned Phase is then the
// default and the caller decides whether to warn.
func ParsePhase(s string) (Phase, bool) {
	switch Phase(strings.ToLower(strings.TrimSpace(s))) {
	case DocumentStart:
		return DocumentStart, true
	case DocumentEnd:
		return DocumentEnd, true
	case DocumentIdle:
		return DocumentIdle, true
	}
	return DefaultPhase, false
}

const (
	headerStart = "==UserScript=="
	headerEnd   = "==/UserScript=="
)

var directiveRe = regexp.MustCompile(`^//\s*@([\w.:-]+)\s*(.*)$`)

// Script is one catalog entry. It is built once at catalog load and
// never mutated afterwards.
type Script struct {
	// Path is the stable identifier of the script (its source file).
	Path string
	// Name is the @name directive, defaulting to the filename.
	Name string
	// Source is the full raw script text.
	Source string
	// Patterns holds the successfully compiled @match patterns, in
	// directive order. A script with no valid patterns is excluded
	// from the catalog by the caller.
	Patterns []*match.Matcher
	// RunAt is the validated injection phase.
	RunAt Phase
	// Metadata is the raw directive mapping. Repeated keys accumulate
	// in order; unknown keys are preserved verbatim.
	Metadata map[string][]string
}

// Parse extracts the metadata block from source and builds a Script.
// It never fails: a missing or empty block yields a record with zero
// patterns, which downstream consumers drop. Invalid match patterns are
// logged and skipped individually; other patterns on the same script
// still apply.
func Parse(path, source string, logger *zap.Logger) *Script {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Script{
		Path:     path,
		Name:     strings.TrimSuffix(filepath.Base(path), Suffix),
		Source:   source,
		RunAt:    DefaultPhase,
		Metadata: make(map[string][]string),
	}

	scanner := bufio.NewScanner(strings.NewReader(source))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	inBlock := false
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !inBlock {
			if strings.HasPrefix(line, "//") && strings.Contains(line, headerStart) {
				inBlock = true
			}
			continue
		}
		if strings.Contains(line, headerEnd) {
			break
		}
		m := directiveRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		key := m[1]
		value := strings.TrimSpace(m[2])
		s.Metadata[key] = append(s.Metadata[key], value)
	}

	if names := s.Metadata["name"]; len(names) > 0 && names[0] != "" {
		s.Name = names[0]
	}

	if runAts := s.Metadata["run-at"]; len(runAts) > 0 {
		phase, ok := ParsePhase(runAts[0])
		if !ok {
			logger.Warn("unknown @run-at value, falling back to document-start",
				zap.String("script", s.Name),
				zap.String("run_at", runAts[0]))
		}
		s.RunAt = phase
	}

	for _, pattern := range s.Metadata["match"] {
		m, err := match.Compile(pattern)
		if err != nil {
			logger.Warn("dropping invalid @match pattern",
				zap.String("script", s.Name),
				zap.String("pattern", pattern),
				zap.Error(err))
			continue
		}
		if m.Warning != "" {
			logger.Warn("match pattern compiled with warning",
				zap.String("script", s.Name),
				zap.String("pattern", pattern),
				zap.String("warning", m.Warning))
		}
		s.Patterns = append(s.Patterns, m)
	}

	return s
}

// AppliesTo reports whether any of the script's patterns match the URL.
func (s *Script) AppliesTo(url string) bool {
	for _, m := range s.Patterns {
		if m.Match(url) {
			return true
		}
	}
	return false
}

// Grants returns the raw @grant directive values.
func (s *Script) Grants() []string {
	return s.Metadata["grant"]
}
