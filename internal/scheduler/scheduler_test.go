package scheduler

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robertheadley/playwright-userscript-manager/internal/catalog"
	"github.com/robertheadley/playwright-userscript-manager/internal/userscript"
)

// fakePage records init and eval calls; failOn marks sources whose
// evaluation should report a page-side throw.
type fakePage struct {
	initScripts []string
	evals       []string
	initErr     error
	failOn      map[string]bool
}

func (f *fakePage) AddInitScript(js string) error {
	if f.initErr != nil {
		return f.initErr
	}
	f.initScripts = append(f.initScripts, js)
	return nil
}

func (f *fakePage) Eval(js string, args ...interface{}) ([]byte, error) {
	f.evals = append(f.evals, js)
	for marker := range f.failOn {
		if strings.Contains(js, marker) {
			return nil, errors.New("evaluation threw")
		}
	}
	return nil, nil
}

func script(name string, phase userscript.Phase) *userscript.Script {
	return &userscript.Script{
		Path:   "/scripts/" + name + ".user.js",
		Name:   name,
		Source: "console.log('" + name + "');",
		RunAt:  phase,
	}
}

func plan(scripts ...*userscript.Script) *catalog.Plan {
	p := &catalog.Plan{URL: "https://example.com/"}
	for _, s := range scripts {
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

// evalOrder extracts the script names from the recorded evaluations.
func evalOrder(evals []string, names ...string) []string {
	var out []string
	for _, js := range evals {
		for _, n := range names {
			if strings.Contains(js, "'"+n+"'") {
				out = append(out, n)
			}
		}
	}
	return out
}

func TestRegisterComposesInitPayloadInOrder(t *testing.T) {
	a := script("alpha", userscript.DocumentStart)
	b := script("beta", userscript.DocumentStart)
	page := &fakePage{}
	s := New(plan(a, b), page, nil)

	require.NoError(t, s.Register("/*shim*/"))

	require.Len(t, page.initScripts, 1)
	payload := page.initScripts[0]
	assert.True(t, strings.HasPrefix(payload, "/*shim*/"), "shim must precede scripts")
	assert.Less(t, strings.Index(payload, "'alpha'"), strings.Index(payload, "'beta'"))

	assert.Equal(t, StateDelivered, s.State(a.Path))
	assert.Equal(t, StateDelivered, s.State(b.Path))
	assert.Empty(t, page.evals, "document-start must not evaluate into a live page")
}

func TestRegisterTwiceFails(t *testing.T) {
	s := New(plan(), &fakePage{}, nil)
	require.NoError(t, s.Register("shim"))
	assert.Error(t, s.Register("shim"))
}

func TestRegisterPropagatesPageError(t *testing.T) {
	page := &fakePage{initErr: errors.New("page gone")}
	s := New(plan(script("a", userscript.DocumentStart)), page, nil)
	assert.Error(t, s.Register("shim"))
}

func TestIdleDeliveryOrderMatchesCatalogOrder(t *testing.T) {
	a := script("a", userscript.DocumentIdle)
	b := script("b", userscript.DocumentIdle)
	c := script("c", userscript.DocumentIdle)
	page := &fakePage{}
	s := New(plan(a, b, c), page, nil)

	s.OnLoad()

	if diff := cmp.Diff([]string{"a", "b", "c"}, evalOrder(page.evals, "a", "b", "c")); diff != "" {
		t.Errorf("delivery order mismatch (-want +got):\n%s", diff)
	}
}

func TestFailingScriptDoesNotBlockPhase(t *testing.T) {
	a := script("first", userscript.DocumentEnd)
	b := script("boom", userscript.DocumentEnd)
	c := script("last", userscript.DocumentEnd)
	page := &fakePage{failOn: map[string]bool{"'boom'": true}}
	s := New(plan(a, b, c), page, nil)

	s.OnDOMContentLoaded()

	assert.Equal(t, StateDelivered, s.State(a.Path))
	assert.Equal(t, StateFailed, s.State(b.Path))
	assert.Equal(t, StateDelivered, s.State(c.Path))
	assert.Len(t, page.evals, 3, "every script in the phase must be attempted")
}

func TestLifecycleEventsFireOnce(t *testing.T) {
	a := script("a", userscript.DocumentEnd)
	page := &fakePage{}
	s := New(plan(a), page, nil)

	s.OnDOMContentLoaded()
	s.OnDOMContentLoaded()
	assert.Len(t, page.evals, 1)
}

func TestPhasesAreIndependent(t *testing.T) {
	end := script("end", userscript.DocumentEnd)
	idle := script("idle", userscript.DocumentIdle)
	page := &fakePage{}
	s := New(plan(end, idle), page, nil)

	s.OnDOMContentLoaded()
	assert.Equal(t, StateDelivered, s.State(end.Path))
	assert.Equal(t, StatePending, s.State(idle.Path))

	s.OnLoad()
	assert.Equal(t, StateDelivered, s.State(idle.Path))
}

func TestAbandonLeavesPendingScriptsPending(t *testing.T) {
	a := script("a", userscript.DocumentIdle)
	page := &fakePage{}
	s := New(plan(a), page, nil)

	s.Abandon()
	s.OnLoad()

	assert.Empty(t, page.evals)
	assert.Equal(t, StatePending, s.State(a.Path))
	assert.Equal(t, map[State]int{StatePending: 1}, s.Counts())
}
