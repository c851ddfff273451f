package governance

import (
	"context"

	"github.com/ormasoftchile/missionkit/pkg/kernel/executor"
)

// Guard wraps inv so every result's error text and stderr is redacted.
// Outputs are left untouched; they are mission data, not diagnostics.
func (g *Engine) Guard(inv executor.Invoker) executor.Invoker {
	if g == nil || len(g.redactors) == 0 {
		return inv
	}
	return &guarded{Invoker: inv, g: g}
}

type guarded struct {
	executor.Invoker
	g *Engine
}

func (w *guarded) Invoke(ctx context.Context, call executor.Call) (*executor.Result, error) {
	res, err := w.Invoker.Invoke(ctx, call)
	if res != nil {
		res.Error = w.g.Redact(res.Error)
		res.Stderr = w.g.Redact(res.Stderr)
	}
	return res, err
}

// Close closes the wrapped invoker if it holds resources.
func (w *guarded) Close() error {
	if c, ok := w.Invoker.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
