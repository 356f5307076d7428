package core

import "context"

// Evaluator is the frozen black-box collaborator. Implementations must be
// deterministic for a given point; the engine never retries a call.
type Evaluator interface {
	Evaluate(ctx context.Context, p Point) (Outcome, error)
}

// EvaluatorFunc adapts a function to Evaluator.
type EvaluatorFunc func(ctx context.Context, p Point) (Outcome, error)

func (f EvaluatorFunc) Evaluate(ctx context.Context, p Point) (Outcome, error) { return f(ctx, p) }

// Schema is implemented by evaluators that accept a fixed set of inputs.
// Keys outside Fields are dropped before the call; an empty list accepts
// every key.
type Schema interface {
	Fields() []string
}

// ConstraintDeriver turns evaluator outputs into constraint verdicts.
type ConstraintDeriver interface {
	Derive(out map[string]float64) []Constraint
}

// DeriverFunc adapts a function to ConstraintDeriver.
type DeriverFunc func(out map[string]float64) []Constraint

func (f DeriverFunc) Derive(out map[string]float64) []Constraint { return f(out) }
