package capability

import (
	"context"
	"fmt"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"iris/internal/types"
)

// SelfTestRunner executes a staged capability's self-test script in
// process via the Go interpreter, promoting staged → active_candidate on
// a pass without needing a second process spawn (spec §4.4). Grounded on
// the teacher's YaegiExecutor (internal/autopoiesis/yaegi_executor.go),
// generalized from its tool-code `RunTool(string) (string, error)`
// contract to a capability self-test's `SelfTest() error` contract.
type SelfTestRunner struct{}

// NewSelfTestRunner builds a runner. Stateless; yaegi interpreters are
// constructed fresh per run so one capability's self-test code can never
// leak symbols into another's.
func NewSelfTestRunner() *SelfTestRunner { return &SelfTestRunner{} }

// Run evaluates script, which must define `func SelfTest() error`, and
// reports whether it passed.
func (r *SelfTestRunner) Run(ctx context.Context, script string) error {
	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return types.Tag(types.KindCapabilityFault, "capability.SelfTest", err)
	}

	if _, err := i.Eval(script); err != nil {
		return types.Tag(types.KindCapabilityFault, "capability.SelfTest", fmt.Errorf("self-test code failed to evaluate: %w", err))
	}

	v, err := i.Eval("main.SelfTest")
	if err != nil {
		return types.Tag(types.KindCapabilityFault, "capability.SelfTest", fmt.Errorf("SelfTest function not found: %w", err))
	}
	fn, ok := v.Interface().(func() error)
	if !ok {
		return types.Tag(types.KindCapabilityFault, "capability.SelfTest", fmt.Errorf("SelfTest has incorrect signature (expected func() error)"))
	}

	resultCh := make(chan error, 1)
	go func() { resultCh <- fn() }()

	select {
	case err := <-resultCh:
		if err != nil {
			return types.Tag(types.KindCapabilityFault, "capability.SelfTest", err)
		}
		return nil
	case <-ctx.Done():
		return types.Tag(types.KindCancellation, "capability.SelfTest", ctx.Err())
	}
}
