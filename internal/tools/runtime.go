package tools

import (
	"context"
	"fmt"

	"github.com/crabmiau/loaf/internal/clock"
	"github.com/crabmiau/loaf/internal/loaferr"
	"github.com/crabmiau/loaf/internal/logger"
	"go.uber.org/zap"
)

// Runtime executes calls against a Registry. Unknown names and panics both
// surface as well-formed failure results, never as a thrown error or a
// crashed goroutine (spec.md §4.4, §7).
type Runtime struct {
	registry *Registry
	logger   *logger.Logger
	clock    clock.Clock
}

func NewRuntime(registry *Registry, log *logger.Logger) *Runtime {
	if log == nil {
		log = logger.Default()
	}
	return &Runtime{
		registry: registry,
		logger:   log.WithFields(zap.String("component", "tools.runtime")),
		clock:    clock.Real{},
	}
}

// WithClock replaces the runtime's clock; tests use a clock.Fake so tool
// code reading ctx.Now observes deterministic time.
func (rt *Runtime) WithClock(clk clock.Clock) *Runtime {
	rt.clock = clk
	return rt
}

// Execute looks up call.Name, builds a Context bound to ctx and cancel, and
// invokes the tool's Run function. Any error it returns, or any panic it
// raises, becomes Result{OK:false}.
func (rt *Runtime) Execute(ctx context.Context, call Call, cancel <-chan struct{}) (result Result) {
	def, ok := rt.registry.Lookup(call.Name)
	if !ok {
		err := loaferr.New(loaferr.NotFound, fmt.Sprintf("unknown tool: %q", call.Name))
		return failure(err)
	}

	defer func() {
		if r := recover(); r != nil {
			rt.logger.Error("tool panicked", zap.String("tool", call.Name), zap.Any("recover", r))
			result = failure(fmt.Errorf("tool %s panicked: %v", call.Name, r))
		}
	}()

	tc := newContext(ctx, rt.clock, cancel)
	output, err := def.Run(tc, call.Input)
	if err != nil {
		return failure(err)
	}
	return success(output)
}
