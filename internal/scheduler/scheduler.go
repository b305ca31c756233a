// Package scheduler drives delivery of an injection plan against page
// lifecycle events.
//
// document-start scripts ride the page's init script and must be
// registered before navigation begins; document-end and document-idle
// scripts are evaluated when the corresponding lifecycle event fires.
// A script that throws during evaluation fails silently: it is logged
// and the rest of its phase proceeds.
package scheduler

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/robertheadley/playwright-userscript-manager/internal/catalog"
	"github.com/robertheadley/playwright-userscript-manager/internal/userscript"
)

// State of one script within a run.
type State string

const (
	StatePending   State = "pending"
	StateDelivered State = "delivered"
	StateFailed    State = "failed-silently"
)

// Page is the slice of the browser driver the scheduler needs.
type Page interface {
	AddInitScript(js string) error
	Eval(js string, args ...interface{}) ([]byte, error)
}

// Scheduler owns the plan's per-script state machine for one run.
type Scheduler struct {
	plan   *catalog.Plan
	page   Page
	logger *zap.Logger

	mu         sync.Mutex
	states     map[string]State
	registered bool
	domFired   bool
	loadFired  bool
	abandoned  bool
}

// New builds a scheduler for one plan over one page.
func New(plan *catalog.Plan, page Page, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{
		plan:   plan,
		page:   page,
		logger: logger,
		states: make(map[string]State),
	}
	for _, phase := range [][]*userscript.Script{plan.Start, plan.End, plan.Idle} {
		for _, sc := range phase {
			s.states[sc.Path] = StatePending
		}
	}
	return s
}

// Register composes the document-start payload (the bridge shim followed
// by each start-phase script, isolated in its own try/catch) and installs
// it as page-initialization code. It must run before navigation starts;
// this is the only scheduling step whose failure aborts the run.
func (s *Scheduler) Register(shim string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.registered {
		return fmt.Errorf("init scripts already registered")
	}

	var sb strings.Builder
	sb.WriteString(shim)
	sb.WriteString("\n")
	for _, sc := range s.plan.Start {
		sb.WriteString(wrapInit(sc))
	}
	if err := s.page.AddInitScript(sb.String()); err != nil {
		return fmt.Errorf("register init scripts: %w", err)
	}

	s.registered = true
	for _, sc := range s.plan.Start {
		s.states[sc.Path] = StateDelivered
		s.logger.Debug("script registered for document-start", zap.String("script", sc.Name))
	}
	return nil
}

// OnDOMContentLoaded delivers the document-end phase. Repeated lifecycle
// events within the run are ignored; the plan fires once.
func (s *Scheduler) OnDOMContentLoaded() {
	s.deliverPhase(userscript.DocumentEnd, s.plan.End, &s.domFired)
}

// OnLoad delivers the document-idle phase.
func (s *Scheduler) OnLoad() {
	s.deliverPhase(userscript.DocumentIdle, s.plan.Idle, &s.loadFired)
}

func (s *Scheduler) deliverPhase(phase userscript.Phase, scripts []*userscript.Script, fired *bool) {
	s.mu.Lock()
	if s.abandoned || *fired {
		s.mu.Unlock()
		return
	}
	*fired = true
	s.mu.Unlock()

	for _, sc := range scripts {
		// Evaluation requests are issued synchronously in catalog
		// order; a script's own async work does not block the next.
		if _, err := s.page.Eval(wrapEval(sc)); err != nil {
			s.setState(sc.Path, StateFailed)
			s.logger.Warn("userscript evaluation failed",
				zap.String("script", sc.Name),
				zap.String("phase", string(phase)),
				zap.Error(err))
			continue
		}
		s.setState(sc.Path, StateDelivered)
		s.logger.Debug("script delivered",
			zap.String("script", sc.Name),
			zap.String("phase", string(phase)))
	}
}

// Abandon marks the run as over (page closed). Scripts still pending
// stay pending; nothing errors.
func (s *Scheduler) Abandon() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.abandoned {
		return
	}
	s.abandoned = true

	pending := 0
	for _, st := range s.states {
		if st == StatePending {
			pending++
		}
	}
	if pending > 0 {
		s.logger.Info("plan abandoned with scripts still pending", zap.Int("pending", pending))
	}
}

// State returns the current state of the script identified by path.
func (s *Scheduler) State(path string) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.states[path]; ok {
		return st
	}
	return ""
}

// Counts summarizes states across the plan, for logging and inspection.
func (s *Scheduler) Counts() map[State]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[State]int)
	for _, st := range s.states {
		out[st]++
	}
	return out
}

func (s *Scheduler) setState(path string, st State) {
	s.mu.Lock()
	s.states[path] = st
	s.mu.Unlock()
}

// wrapInit isolates one document-start script inside the shared init
// payload so one throwing script cannot block the others.
func wrapInit(sc *userscript.Script) string {
	return fmt.Sprintf(";(() => { try {\n%s\n} catch (e) { console.error(%q, e); } })();\n",
		sc.Source, "userscript "+sc.Name+" failed")
}

// wrapEval produces the evaluated form for document-end/idle delivery.
// No try/catch here: a throw must surface as an evaluation error so the
// host can mark the script failed-silently.
func wrapEval(sc *userscript.Script) string {
	return fmt.Sprintf("() => {\n%s\n}", sc.Source)
}
