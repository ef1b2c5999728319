package setop

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticPlan struct {
	rvs []RangeVector
	err error
}

func (p staticPlan) Query(ctx context.Context) ([]RangeVector, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.rvs, nil
}

func rv(labels map[string]string) RangeVector { return RangeVector{Labels: labels} }

func plans(rvs ...RangeVector) []ChildPlan {
	out := make([]ChildPlan, len(rvs))
	for i, r := range rvs {
		out[i] = staticPlan{rvs: []RangeVector{r}}
	}
	return out
}

func TestNode_New_RejectsBothOnAndIgnoring(t *testing.T) {
	_, err := New(nil, nil, AND, []string{"a"}, []string{"b"}, Options{})
	require.Error(t, err)
	assert.True(t, IsInvalidJoin(err))
}

func TestNode_New_RejectsReservedNameInOn(t *testing.T) {
	_, err := New(nil, nil, AND, []string{"__name__"}, nil, Options{})
	require.Error(t, err)
	assert.True(t, IsInvalidJoin(err))
}

// Scenario 4: AND with on=[a]. lhs keys [{a:1},{a:2}], rhs key [{a:1}].
// Result: only lhs[0].
func TestNode_Scenario4_AND(t *testing.T) {
	lhs := []RangeVector{
		rv(map[string]string{"a": "1", "b": "2"}),
		rv(map[string]string{"a": "2", "b": "2"}),
	}
	rhs := []RangeVector{rv(map[string]string{"a": "1", "b": "9"})}

	n, err := New(plans(lhs...), plans(rhs...), AND, []string{"a"}, nil, Options{})
	require.NoError(t, err)

	out, err := n.Compose(context.Background())
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, lhs[0], out[0])
}

// Scenario 5: OR with the same inputs: lhs[0], lhs[1], then rhs[0] is
// dropped because its join key {a:1} is already present in lhs.
func TestNode_Scenario5_OR(t *testing.T) {
	lhs := []RangeVector{
		rv(map[string]string{"a": "1", "b": "2"}),
		rv(map[string]string{"a": "2", "b": "2"}),
	}
	rhs := []RangeVector{rv(map[string]string{"a": "1", "b": "9"})}

	n, err := New(plans(lhs...), plans(rhs...), OR, []string{"a"}, nil, Options{})
	require.NoError(t, err)

	out, err := n.Compose(context.Background())
	require.NoError(t, err)
	assert.Equal(t, lhs, out)
}

// Scenario 6: UNLESS with an empty rhs plan list returns lhs unchanged, in
// original order.
func TestNode_Scenario6_UNLESS_EmptyRHS(t *testing.T) {
	lhs := []RangeVector{
		rv(map[string]string{"a": "1"}),
		rv(map[string]string{"a": "2"}),
	}
	n, err := New(plans(lhs...), nil, UNLESS, []string{"a"}, nil, Options{})
	require.NoError(t, err)

	out, err := n.Compose(context.Background())
	require.NoError(t, err)
	assert.Equal(t, lhs, out)
}

// P6: AND(LHS, RHS) subset of LHS by identity.
func TestNode_P6_ANDIsSubsetOfLHS(t *testing.T) {
	lhs := []RangeVector{
		rv(map[string]string{"a": "1"}),
		rv(map[string]string{"a": "2"}),
		rv(map[string]string{"a": "3"}),
	}
	rhs := []RangeVector{rv(map[string]string{"a": "2"})}
	n, err := New(plans(lhs...), plans(rhs...), AND, []string{"a"}, nil, Options{})
	require.NoError(t, err)

	out, err := n.Compose(context.Background())
	require.NoError(t, err)
	for _, o := range out {
		assert.Contains(t, lhs, o)
	}
}

// P7: OR(LHS, RHS) preserves LHS in order, then appends RHS elements with
// join keys not already seen.
func TestNode_P7_ORPreservesLHSThenNewRHS(t *testing.T) {
	lhs := []RangeVector{rv(map[string]string{"a": "1"})}
	rhs := []RangeVector{
		rv(map[string]string{"a": "1"}),
		rv(map[string]string{"a": "2"}),
	}
	n, err := New(plans(lhs...), plans(rhs...), OR, []string{"a"}, nil, Options{})
	require.NoError(t, err)

	out, err := n.Compose(context.Background())
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, lhs[0], out[0])
	assert.Equal(t, rhs[1], out[1])
}

// P8: UNLESS(LHS, LHS) = empty when every lhs rv has a non-empty join key.
func TestNode_P8_UNLESSSelfIsEmpty(t *testing.T) {
	lhs := []RangeVector{
		rv(map[string]string{"a": "1"}),
		rv(map[string]string{"a": "2"}),
	}
	n, err := New(plans(lhs...), plans(lhs...), UNLESS, []string{"a"}, nil, Options{})
	require.NoError(t, err)

	out, err := n.Compose(context.Background())
	require.NoError(t, err)
	assert.Empty(t, out)
}

// P9: AND(LHS, rhs-with-only-empty-join-keys) = LHS (pass-through rule),
// since the rhs key set is empty once empty-key members are excluded.
func TestNode_P9_ANDPassesThroughWhenRHSKeySetEmpty(t *testing.T) {
	lhs := []RangeVector{
		rv(map[string]string{"a": "1"}),
		rv(map[string]string{"a": "2"}),
	}
	// on=[z]: z is absent from every rhs label map, so every rhs join key
	// is empty and excluded from the matched set.
	rhs := []RangeVector{rv(map[string]string{"a": "9"})}
	n, err := New(plans(lhs...), plans(rhs...), AND, []string{"z"}, nil, Options{})
	require.NoError(t, err)

	out, err := n.Compose(context.Background())
	require.NoError(t, err)
	assert.Equal(t, lhs, out)
}

func TestNode_Compose_ChildQueryErrorShortCircuits(t *testing.T) {
	boom := errors.New("boom")
	lhs := []ChildPlan{staticPlan{err: boom}}
	rhs := []ChildPlan{staticPlan{rvs: []RangeVector{rv(map[string]string{"a": "1"})}}}
	n, err := New(lhs, rhs, AND, []string{"a"}, nil, Options{})
	require.NoError(t, err)

	_, err = n.Compose(context.Background())
	require.Error(t, err)
	assert.True(t, IsChildQueryError(err))
}

func TestNode_Compose_InsufficientResponses(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	lhs := []ChildPlan{staticPlan{rvs: []RangeVector{rv(map[string]string{"a": "1"})}}}
	n, err := New(lhs, nil, AND, []string{"a"}, nil, Options{})
	require.NoError(t, err)

	_, err = n.Compose(ctx)
	require.Error(t, err)
	assert.True(t, IsInsufficientResponses(err))
}

func TestNode_IgnoringExcludesReservedNameLabel(t *testing.T) {
	lhs := []RangeVector{rv(map[string]string{"__name__": "cpu", "instance": "h1"})}
	rhs := []RangeVector{rv(map[string]string{"__name__": "mem", "instance": "h1"})}
	n, err := New(plans(lhs...), plans(rhs...), AND, nil, nil, Options{})
	require.NoError(t, err)

	out, err := n.Compose(context.Background())
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, lhs[0], out[0])
}
