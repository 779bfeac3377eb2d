package sensorygate

import (
	"fmt"
	"strings"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	_ "github.com/google/mangle/builtin"
	"github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	"github.com/google/mangle/parse"

	"iris/internal/types"
)

// ruleProgram is the deterministic keyword/system-priority filter (spec
// §4.2: "deterministic rule filter plus a weighted four-dimensional
// score"), expressed as a small Datalog program in the teacher's own rule
// engine (internal/mangle, vendoring github.com/google/mangle) rather than
// a hand-rolled switch statement.
const ruleProgram = `
	Decl keyword_hit(Kind) bound[/name].
	Decl event_source(Source) bound[/name].

	Decl urgent_signal(Kind) bound[/name].
	Decl priority_source(Source) bound[/name].

	urgent_signal(Kind) :- keyword_hit(Kind).
	priority_source(Source) :- event_source(Source), Source = /system.
`

var urgentKeywords = []string{"error", "fail", "crash", "urgent", "immediately", "critical", "down", "help"}

// RuleFilter evaluates ruleProgram fresh for each event: the program is
// parsed and analyzed once at construction, then re-evaluated against a
// per-call fact store so the filter stays a pure function of its inputs
// (spec §4.2: "no side effects; deterministic given inputs").
type RuleFilter struct {
	programInfo *analysis.ProgramInfo
}

// NewRuleFilter parses and analyzes ruleProgram once.
func NewRuleFilter() (*RuleFilter, error) {
	unit, err := parse.Unit(strings.NewReader(ruleProgram))
	if err != nil {
		return nil, fmt.Errorf("sensorygate: parse rule program: %w", err)
	}
	info, err := analysis.AnalyzeOneUnit(unit, nil)
	if err != nil {
		return nil, fmt.Errorf("sensorygate: analyze rule program: %w", err)
	}
	return &RuleFilter{programInfo: info}, nil
}

// Verdict is the derived output of one rule-filter pass.
type Verdict struct {
	UrgentKeywordHit bool
	SystemPriority   bool
}

// Evaluate runs the rule program against the facts derived from a single
// event: which urgent keywords its content contains and its source.
func (f *RuleFilter) Evaluate(event types.SensoryEvent) (Verdict, error) {
	store := factstore.NewSimpleInMemoryStore()

	lower := strings.ToLower(event.Content)
	for _, kw := range urgentKeywords {
		if strings.Contains(lower, kw) {
			name, err := ast.Name("/" + kw)
			if err != nil {
				return Verdict{}, fmt.Errorf("sensorygate: keyword name %q: %w", kw, err)
			}
			store.Add(ast.NewAtom("keyword_hit", name))
		}
	}
	sourceName, err := ast.Name("/" + event.Source.String())
	if err != nil {
		return Verdict{}, fmt.Errorf("sensorygate: source name %q: %w", event.Source.String(), err)
	}
	store.Add(ast.NewAtom("event_source", sourceName))

	if _, err := engine.EvalProgramWithStats(f.programInfo, store); err != nil {
		return Verdict{}, fmt.Errorf("sensorygate: evaluate rule program: %w", err)
	}

	var v Verdict
	urgentPred := ast.PredicateSym{Symbol: "urgent_signal", Arity: 1}
	_ = store.GetFacts(ast.NewQuery(urgentPred), func(ast.Atom) error {
		v.UrgentKeywordHit = true
		return nil
	})
	priorityPred := ast.PredicateSym{Symbol: "priority_source", Arity: 1}
	_ = store.GetFacts(ast.NewQuery(priorityPred), func(ast.Atom) error {
		v.SystemPriority = true
		return nil
	})
	return v, nil
}
