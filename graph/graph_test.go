package graph

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counterState struct {
	Count int
	Trail []string
}

func TestStateGraph_Linear(t *testing.T) {
	g := NewStateGraph[counterState]()
	g.AddNode("a", "first", func(ctx context.Context, s counterState) (counterState, error) {
		s.Count++
		s.Trail = append(s.Trail, "a")
		return s, nil
	})
	g.AddNode("b", "second", func(ctx context.Context, s counterState) (counterState, error) {
		s.Count += 10
		s.Trail = append(s.Trail, "b")
		return s, nil
	})
	g.SetEntryPoint("a")
	g.AddEdge("a", "b")
	g.AddEdge("b", END)

	r, err := g.Compile()
	require.NoError(t, err)

	out, err := r.Invoke(context.Background(), counterState{})
	require.NoError(t, err)
	assert.Equal(t, 11, out.Count)
	assert.Equal(t, []string{"a", "b"}, out.Trail)
}

func TestStateGraph_ConditionalLoop(t *testing.T) {
	g := NewStateGraph[counterState]()
	g.AddNode("inc", "increment", func(ctx context.Context, s counterState) (counterState, error) {
		s.Count++
		return s, nil
	})
	g.SetEntryPoint("inc")
	g.AddConditionalEdge("inc", func(ctx context.Context, s counterState) string {
		if s.Count < 3 {
			return "inc"
		}
		return END
	})

	r, err := g.Compile()
	require.NoError(t, err)
	out, err := r.Invoke(context.Background(), counterState{})
	require.NoError(t, err)
	assert.Equal(t, 3, out.Count)
}

func TestStateGraph_StepLimit(t *testing.T) {
	g := NewStateGraph[counterState]()
	g.AddNode("spin", "never ends", func(ctx context.Context, s counterState) (counterState, error) {
		s.Count++
		return s, nil
	})
	g.SetEntryPoint("spin")
	g.AddEdge("spin", "spin")
	g.SetStepLimit(4)

	r, err := g.Compile()
	require.NoError(t, err)
	out, err := r.Invoke(context.Background(), counterState{})
	assert.ErrorIs(t, err, ErrStepLimit)
	assert.Equal(t, 4, out.Count)
}

func TestStateGraph_NodeErrorAndListener(t *testing.T) {
	boom := errors.New("boom")
	var seen []string

	g := NewStateGraph[counterState]()
	g.AddNode("fail", "fails", func(ctx context.Context, s counterState) (counterState, error) {
		return s, boom
	})
	g.SetEntryPoint("fail")
	g.AddEdge("fail", END)
	g.AddListener(func(ctx context.Context, node string, err error, elapsed time.Duration) {
		seen = append(seen, node)
		assert.ErrorIs(t, err, boom)
	})

	r, err := g.Compile()
	require.NoError(t, err)
	_, err = r.Invoke(context.Background(), counterState{})
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "error in node fail")
	assert.Equal(t, []string{"fail"}, seen)
}

func TestStateGraph_PanicRecovered(t *testing.T) {
	g := NewStateGraph[counterState]()
	g.AddNode("panic", "panics", func(ctx context.Context, s counterState) (counterState, error) {
		panic("bad state")
	})
	g.SetEntryPoint("panic")
	g.AddEdge("panic", END)

	r, err := g.Compile()
	require.NoError(t, err)
	_, err = r.Invoke(context.Background(), counterState{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic in node panic")
}

func TestStateGraph_CompileErrors(t *testing.T) {
	g := NewStateGraph[counterState]()
	_, err := g.Compile()
	assert.ErrorIs(t, err, ErrEntryPointNotSet)

	g.SetEntryPoint("missing")
	_, err = g.Compile()
	assert.ErrorIs(t, err, ErrNodeNotFound)

	g.AddNode("a", "a", func(ctx context.Context, s counterState) (counterState, error) { return s, nil })
	g.SetEntryPoint("a")
	g.AddEdge("a", "nowhere")
	_, err = g.Compile()
	assert.ErrorIs(t, err, ErrNodeNotFound)
}

func TestStateGraph_NoOutgoingEdge(t *testing.T) {
	g := NewStateGraph[counterState]()
	g.AddNode("a", "dead end", func(ctx context.Context, s counterState) (counterState, error) { return s, nil })
	g.SetEntryPoint("a")

	r, err := g.Compile()
	require.NoError(t, err)
	_, err = r.Invoke(context.Background(), counterState{})
	assert.ErrorIs(t, err, ErrNoOutgoingEdge)
}

func TestStateGraph_ContextCancelled(t *testing.T) {
	g := NewStateGraph[counterState]()
	g.AddNode("a", "a", func(ctx context.Context, s counterState) (counterState, error) { return s, nil })
	g.SetEntryPoint("a")
	g.AddEdge("a", END)

	r, err := g.Compile()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.Invoke(ctx, counterState{})
	assert.ErrorIs(t, err, context.Canceled)
}
