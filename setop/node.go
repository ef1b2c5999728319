package setop

import (
	"context"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"
)

// Options bundles the node's ambient dependencies, in the same
// struct-of-options shape as memtable.Options.
type Options struct {
	Logger *slog.Logger
	Tracer trace.Tracer
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Tracer == nil {
		o.Tracer = noop.NewTracerProvider().Tracer("filodb/setop")
	}
	return o
}

// Node is the set-operator execution node: it fetches two child-plan
// result sets concurrently and combines them by label-subset matching
// under one of AND, OR, or UNLESS.
type Node struct {
	lhs, rhs     []ChildPlan
	operator     Operator
	on, ignoring []string
	logger       *slog.Logger
	tracer       trace.Tracer
}

// New validates the join selection and constructs a Node. on and ignoring
// are mutually exclusive; on must not name the reserved "__name__" label.
func New(lhs, rhs []ChildPlan, operator Operator, on, ignoring []string, opts Options) (*Node, error) {
	if len(on) > 0 && len(ignoring) > 0 {
		return nil, &InvalidJoinError{Reason: "on and ignoring are mutually exclusive"}
	}
	for _, name := range on {
		if name == reservedNameLabel {
			return nil, &InvalidJoinError{Reason: "on must not name the reserved __name__ label"}
		}
	}
	opts = opts.withDefaults()
	return &Node{
		lhs:      lhs,
		rhs:      rhs,
		operator: operator,
		on:       on,
		ignoring: ignoring,
		logger:   opts.Logger,
		tracer:   opts.Tracer,
	}, nil
}

// Compose fetches both child-plan sets concurrently and returns the
// combined range vectors per the node's operator.
func (n *Node) Compose(ctx context.Context) ([]RangeVector, error) {
	ctx, span := n.tracer.Start(ctx, "Node.Compose", trace.WithAttributes(
		attribute.String("operator", n.operator.String()),
		attribute.Int("lhs_count", len(n.lhs)),
		attribute.Int("rhs_count", len(n.rhs)),
	))
	defer span.End()

	lhsResults := make([][]RangeVector, len(n.lhs))
	rhsResults := make([][]RangeVector, len(n.rhs))

	g, gctx := errgroup.WithContext(ctx)
	var mu sync.Mutex
	responses := 0

	fetch := func(side string, plans []ChildPlan, into [][]RangeVector) {
		for i, plan := range plans {
			i, plan := i, plan
			g.Go(func() error {
				select {
				case <-gctx.Done():
					return nil
				default:
				}
				rvs, err := plan.Query(gctx)
				if err != nil {
					return &ChildQueryError{Side: side, Index: i, Err: err}
				}
				mu.Lock()
				into[i] = rvs
				responses++
				mu.Unlock()
				return nil
			})
		}
	}
	fetch("lhs", n.lhs, lhsResults)
	fetch("rhs", n.rhs, rhsResults)

	if err := g.Wait(); err != nil {
		span.RecordError(err)
		n.logger.Error("setop: compose short-circuited by child query error", "error", err)
		return nil, err
	}

	want := len(n.lhs) + len(n.rhs)
	if responses != want {
		err := &InsufficientResponsesError{Want: want, Got: responses}
		span.RecordError(err)
		return nil, err
	}

	lhsAll := flatten(lhsResults)
	rhsAll := flatten(rhsResults)

	var out []RangeVector
	switch n.operator {
	case AND:
		out = n.and(lhsAll, rhsAll)
	case OR:
		out = n.or(lhsAll, rhsAll)
	case UNLESS:
		out = n.unless(lhsAll, rhsAll)
	default:
		return nil, &BadQueryError{Message: "unknown operator"}
	}
	n.logger.Info("setop: compose complete", "operator", n.operator.String(), "result_count", len(out))
	return out, nil
}

func flatten(groups [][]RangeVector) []RangeVector {
	total := 0
	for _, g := range groups {
		total += len(g)
	}
	out := make([]RangeVector, 0, total)
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

// and implements AND (intersection): every lhs rv whose join key is among
// rhs's join keys. If rhs's derived key set is empty (after excluding
// empty-key members), every lhs rv passes through unchanged — the
// non-standard pass-through rule.
func (n *Node) and(lhs, rhs []RangeVector) []RangeVector {
	rhsSet := keySet(rhs, n.on, n.ignoring)
	if len(rhsSet) == 0 {
		out := make([]RangeVector, len(lhs))
		copy(out, lhs)
		return out
	}
	// An empty-key rv's derived key never populates any keySet, so it
	// can never satisfy membership here; no special case needed.
	var out []RangeVector
	for _, rv := range lhs {
		key, _ := joinKeyOf(rv, n.on, n.ignoring)
		if _, ok := rhsSet[key]; ok {
			out = append(out, rv)
		}
	}
	return out
}

// or implements OR (union): all of lhs, followed by every rhs rv whose
// join key is not already present among lhs's join keys. An empty-key rhs
// rv is never present in lhsSet, so it always passes through.
func (n *Node) or(lhs, rhs []RangeVector) []RangeVector {
	lhsSet := keySet(lhs, n.on, n.ignoring)
	out := make([]RangeVector, len(lhs), len(lhs)+len(rhs))
	copy(out, lhs)
	for _, rv := range rhs {
		key, _ := joinKeyOf(rv, n.on, n.ignoring)
		if _, ok := lhsSet[key]; !ok {
			out = append(out, rv)
		}
	}
	return out
}

// unless implements UNLESS (difference): every lhs rv whose join key is
// not in rhs's join key set. An empty-key lhs rv is never present in
// rhsSet, so it always passes through, matching P8's expectation that
// UNLESS(LHS, LHS) only empties out when every lhs key is non-empty.
func (n *Node) unless(lhs, rhs []RangeVector) []RangeVector {
	rhsSet := keySet(rhs, n.on, n.ignoring)
	var out []RangeVector
	for _, rv := range lhs {
		key, _ := joinKeyOf(rv, n.on, n.ignoring)
		if _, ok := rhsSet[key]; !ok {
			out = append(out, rv)
		}
	}
	return out
}
