package patch

import (
	"testing"

	"github.com/stretchr/testify/require"

	"lightengine/internal/config"
	"lightengine/internal/dmx"
	"lightengine/internal/effect"
	"lightengine/internal/engine"
	"lightengine/internal/filter"
	"lightengine/internal/logger"
	"lightengine/internal/object"
)

type show struct {
	reg   *object.Registry
	eng   *engine.Engine
	iface *dmx.Interface
}

func newShow(t *testing.T) show {
	t.Helper()
	reg := object.NewRegistry()
	iface := dmx.NewInterface(logger.Discard(), nil, config.DMXConf{SendRate: 40})
	t.Cleanup(iface.Close)
	return show{
		reg:   reg,
		eng:   engine.New(logger.Discard(), reg, nil, config.EngineConf{Rate: 50, Seed: 1}),
		iface: iface,
	}
}

func intp(v int) *int { return &v }

func floatp(v float64) *float64 { return &v }

func TestApply(t *testing.T) {
	s := newShow(t)
	cfg := config.Default()
	cfg.Objects = []config.ObjectConf{
		{ID: 1, Name: "left", Groups: []string{"front"}, Components: []string{"intensity"}, StartChannel: 1},
		{ID: 2, Name: "right", Groups: []string{"front"}, Components: []string{"intensity"}, StartChannel: 2},
		{ID: 3, Name: "mover", Components: []string{"orientation"}, Universe: intp(1), StartChannel: 1, ByteOrder: "msb"},
	}
	cfg.Effects = []config.EffectConf{
		{Type: "override", Layer: "global", Parameter: "value", Value: 1, Weight: floatp(0.5),
			Filter: &config.FilterConf{Kind: "group", Groups: []string{"front"}}},
		{Type: "offset", Layer: "object", Object: 2, Parameter: "value", Value: 0.25},
		{Type: "wave", Layer: "group", Parameter: "pan", Frequency: 1, Amplitude: 0.1, Value: 0.5,
			Filter: &config.FilterConf{IDMode: "local"}},
	}

	require.NoError(t, Apply(logger.Discard(), cfg, s.reg, s.eng, s.iface))
	require.Equal(t, 3, s.reg.Len())
	require.Len(t, s.iface.Objects(), 3)
	shared := s.eng.SharedStacks()
	require.Len(t, shared, 2)
	require.Equal(t, effect.GroupLayer, shared[0].Layer, "stacks are ordered by layer")
	require.Equal(t, effect.GlobalLayer, shared[1].Layer)

	all := s.eng.Stacks()
	require.Len(t, all, 3)
	require.Equal(t, effect.ObjectLayer, all[0].Layer, "object stacks come first")
	require.Len(t, all[0].Effects(), 1)

	s.eng.Process(0)
	left, _ := s.reg.Get(1)
	right, _ := s.reg.Get(2)
	p := func(o *object.Object) *object.Parameter { return o.Component(object.Intensity).Parameter("value") }
	require.InDelta(t, 0.5, left.ResolvedValue(p(left)), 1e-9)
	// own offset first, then the half-weight global override
	require.InDelta(t, 0.625, right.ResolvedValue(p(right)), 1e-9)
}

func TestApplySkipsBrokenEntries(t *testing.T) {
	s := newShow(t)
	cfg := config.Default()
	cfg.Objects = []config.ObjectConf{
		{ID: 1, Components: []string{"laser"}},
		{ID: 2, Components: []string{"intensity"}, Subnet: intp(16)},
		{ID: 3, Components: []string{"intensity"}, ByteOrder: "24bit"},
		{ID: 4, Components: []string{"intensity"}},
	}
	cfg.Effects = []config.EffectConf{
		{Type: "strobe-madness"},
		{Type: "override", Layer: "object", Object: 99},
		{Type: "override", Filter: &config.FilterConf{Kind: "shape"}},
		{Type: "override", Filter: &config.FilterConf{IDMode: "sideways"}},
		{Type: "override", Layer: "sky"},
		{Type: "override", Parameter: "value", Value: 1},
	}

	err := Apply(logger.Discard(), cfg, s.reg, s.eng, s.iface)
	require.Error(t, err)
	require.ErrorIs(t, err, object.ErrUnknownComponent)
	require.ErrorIs(t, err, dmx.ErrInvalidAddress)
	require.ErrorIs(t, err, ErrUnknownEffect)
	require.ErrorIs(t, err, object.ErrObjectNotFound)
	require.ErrorIs(t, err, ErrUnknownFilterKind)
	require.ErrorIs(t, err, filter.ErrInvalidIDMode)
	require.ErrorIs(t, err, effect.ErrUnknownLayer)

	require.Equal(t, 1, s.reg.Len())
	require.Len(t, s.eng.Stacks(), 1)
	require.Len(t, s.eng.SharedStacks(), 1)
	require.Len(t, s.eng.SharedStacks()[0].Effects(), 1)
}

func TestBuildObjectAddress(t *testing.T) {
	def := dmx.Address{Net: 1, Subnet: 2, Universe: 3}

	_, params, err := buildObject(config.ObjectConf{ID: 1}, def)
	require.NoError(t, err)
	require.Nil(t, params.Address, "no override uses the interface default at send time")

	_, params, err = buildObject(config.ObjectConf{ID: 1, Universe: intp(9)}, def)
	require.NoError(t, err)
	require.Equal(t, &dmx.Address{Net: 1, Subnet: 2, Universe: 9}, params.Address)
}

func TestBuildFilter(t *testing.T) {
	f, err := buildFilter(config.FilterConf{Kind: "custom", Parameter: "zone", IDMode: "randomized", Invert: true, ExcludeFromScenes: true})
	require.NoError(t, err)
	require.Equal(t, filter.Randomized, f.IDMode())
	require.True(t, f.Invert())
	require.Nil(t, f.SceneData())

	o := object.New(1, "x", object.Intensity)
	o.SetCustomParameter("zone", 0.4)
	require.InDelta(t, 0.6, f.Result(o, nil).Weight, 1e-9)
}
