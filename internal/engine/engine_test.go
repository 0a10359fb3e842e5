package engine

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"lightengine/internal/config"
	"lightengine/internal/effect"
	"lightengine/internal/filter"
	"lightengine/internal/logger"
	"lightengine/internal/metrics"
	"lightengine/internal/object"
)

func newEngine(t *testing.T, objs ...*object.Object) *Engine {
	t.Helper()
	r := object.NewRegistry()
	for _, o := range objs {
		require.NoError(t, r.Add(o))
	}
	return New(logger.Discard(), r, metrics.New(), config.EngineConf{Rate: 100, Seed: 7})
}

func dimmer(o *object.Object) *object.Parameter {
	return o.Component(object.Intensity).Parameter("value")
}

func TestBlendEndpoints(t *testing.T) {
	for _, c := range []struct{ current, target float64 }{{0, 1}, {0.3, 0.7}, {-2, 5.5}, {1e9, -1e-9}} {
		require.Equal(t, c.current, Blend(c.current, c.target, 0))
		require.Equal(t, c.target, Blend(c.current, c.target, 1))
	}
	require.Equal(t, 1.0, Blend(0, 1, 3), "weights above 1 are clamped")
	require.Equal(t, 0.5, Blend(0.5, 1, -1), "negative weights are clamped")
	require.Equal(t, 0.5, Blend(0.5, 1, math.NaN()))
}

func TestSuccessiveBlending(t *testing.T) {
	o := object.New(1, "par", object.Intensity)
	e := newEngine(t, o)

	s := effect.NewStack("global", effect.GlobalLayer)
	s.Add(effect.New("ten", effect.NewOverride("value", 10)))
	half := effect.New("twenty", effect.NewOverride("value", 20))
	half.SetWeight(0.5)
	s.Add(half)
	e.AddStack(s)

	e.Process(0)
	require.InDelta(t, 15.0, o.ResolvedValue(dimmer(o)), 1e-12)
}

func TestZeroWeightDoesNotPerturb(t *testing.T) {
	o := object.New(1, "par", object.Intensity)
	dimmer(o).Base = 0.4
	e := newEngine(t, o)

	s := effect.NewStack("global", effect.GlobalLayer)
	zero := effect.New("zero", effect.NewOverride("value", 1))
	zero.SetWeight(0)
	s.Add(zero)
	e.AddStack(s)

	require.Equal(t, 0.4, e.Resolve(o, -1)[dimmer(o)])
	require.True(t, zero.IsAffectingObject(o))
	require.False(t, e.IsReallyAffecting(zero, o))
}

func TestFilterWeightIsClamped(t *testing.T) {
	o := object.New(1, "par", object.Intensity)
	o.SetCustomParameter("boost", 1)
	e := newEngine(t, o)

	over := effect.New("over", effect.NewOverride("value", 0.6))
	over.SetFilter(filter.New(filter.NewCustomParameterKind("boost", 3)))
	s := effect.NewStack("global", effect.GlobalLayer)
	s.Add(over)
	e.AddStack(s)

	require.Equal(t, 3.0, over.Result(o, o.Components[0]).Weight, "filter output is unclamped")
	require.Equal(t, 0.6, e.Resolve(o, -1)[dimmer(o)], "blend never overshoots")
}

func TestFilteredEffectsAreSkipped(t *testing.T) {
	front := object.New(1, "front", object.Intensity)
	front.Groups = []string{"front"}
	back := object.New(2, "back", object.Intensity)
	back.Groups = []string{"back"}
	e := newEngine(t, front, back)

	eff := effect.New("front-only", effect.NewOverride("value", 1))
	eff.SetFilter(filter.New(filter.NewGroupKind("front")))
	s := effect.NewStack("group", effect.GroupLayer)
	s.Add(eff)
	e.AddStack(s)

	e.Process(0)
	require.Equal(t, 1.0, front.ResolvedValue(dimmer(front)))
	require.Equal(t, 0.0, back.ResolvedValue(dimmer(back)))
}

func TestChainOrder(t *testing.T) {
	o := object.New(1, "par", object.Intensity, object.Strobe)
	e := newEngine(t, o)

	global := effect.NewStack("global", effect.GlobalLayer)
	last := effect.New("global", effect.NewOverride("value", 0.9))
	global.Add(last)
	scene := effect.NewStack("scene", effect.SceneLayer)
	mid := effect.New("scene", effect.NewOverride("value", 0.5))
	scene.Add(mid)
	e.AddStack(global)
	e.AddStack(scene)
	own := effect.New("own", effect.NewOffset("value", 0.1))
	e.ObjectStack(o.ID).Add(own)
	require.Same(t, e.ObjectStack(o.ID), e.ObjectStack(o.ID))

	require.Equal(t, []*effect.Effect{own, mid, last}, e.ChainTargets(o, object.Intensity))
	require.Equal(t, 0.9, e.Resolve(o, -1)[dimmer(o)], "global layer folds last")

	strobeOnly := effect.New("strobe", effect.NewOverride("", 1))
	strobeOnly.SetComponents(object.Strobe)
	global.Add(strobeOnly)
	require.Equal(t, []*effect.Effect{strobeOnly}, e.ChainTargets(o, object.Strobe)[3:])
	require.Nil(t, e.ChainTargets(o, object.Orientation))
}

func TestStacksOrder(t *testing.T) {
	e := newEngine(t)
	global := effect.NewStack("global", effect.GlobalLayer)
	group := effect.NewStack("group", effect.GroupLayer)
	e.AddStack(global)
	e.AddStack(group)
	for _, id := range []int{9, 3, 5} {
		e.ObjectStack(id)
	}

	want := []*effect.Stack{e.ObjectStack(3), e.ObjectStack(5), e.ObjectStack(9), group, global}
	for i := 0; i < 10; i++ {
		require.Equal(t, want, e.Stacks())
	}
	require.Equal(t, []*effect.Stack{group, global}, e.SharedStacks())
}

func TestPreviewDoesNotPublish(t *testing.T) {
	o := object.New(1, "par", object.Intensity)
	e := newEngine(t, o)
	s := effect.NewStack("global", effect.GlobalLayer)
	s.Add(effect.New("wave", effect.NewWave("value", 1, 0.5, 0.5, 0)))
	e.AddStack(s)

	require.InDelta(t, 1.0, e.Resolve(o, 0.25)[dimmer(o)], 1e-9)
	require.Equal(t, 0.0, o.ResolvedValue(dimmer(o)))
	require.Empty(t, e.Resolve(nil, 0))
}

func TestProcessAdvancesClocks(t *testing.T) {
	o := object.New(1, "par", object.Intensity)
	e := newEngine(t, o)
	s := effect.NewStack("global", effect.GlobalLayer)
	s.Add(effect.New("wave", effect.NewWave("value", 1, 0.5, 0.5, 0)))
	e.AddStack(s)

	e.Process(0.25)
	require.InDelta(t, 1.0, o.ResolvedValue(dimmer(o)), 1e-9)
	e.Process(0.5)
	require.InDelta(t, 0.0, o.ResolvedValue(dimmer(o)), 1e-9)
}

func TestRandomizedIDsStableWithinPass(t *testing.T) {
	var objs []*object.Object
	for i := 0; i < 8; i++ {
		o := object.New(i+1, "", object.Custom)
		o.Groups = []string{"all"}
		objs = append(objs, o)
	}
	e := newEngine(t, objs...)

	f := filter.New(filter.NewGroupKind("all"))
	require.NoError(t, f.SetIDMode(filter.Randomized))
	// value equals the id: each object shows its slot of the permutation
	eff := effect.New("ids", idWriter{})
	eff.SetFilter(f)
	s := effect.NewStack("global", effect.GlobalLayer)
	s.Add(eff)
	e.AddStack(s)

	e.Process(0)
	seen := map[float64]bool{}
	first := map[int]float64{}
	for _, o := range objs {
		v := o.ResolvedValue(o.Components[0].Parameters[0])
		require.False(t, seen[v], "duplicate id %v", v)
		seen[v] = true
		first[o.ID] = v
	}
	require.Len(t, seen, len(objs))

	e.Process(0)
	for _, o := range objs {
		require.Equal(t, first[o.ID], o.ResolvedValue(o.Components[0].Parameters[0]))
	}
}

type idWriter struct{}

func (idWriter) Type() string { return "id" }

func (idWriter) ProcessComponent(_ *object.Object, c *object.Component, _, target object.Values, id int, _ float64) {
	for _, p := range c.Parameters {
		target[p] = float64(id)
	}
}

func TestRunPublishesUntilCancelled(t *testing.T) {
	o := object.New(1, "par", object.Intensity)
	e := newEngine(t, o)
	s := effect.NewStack("global", effect.GlobalLayer)
	s.Add(effect.New("full", effect.NewOverride("value", 1)))
	e.AddStack(s)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	require.Eventually(t, func() bool { return o.ResolvedValue(dimmer(o)) == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}
