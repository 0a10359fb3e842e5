// Package patch builds the runtime show from the configuration: objects,
// their DMX bindings, and the effect stacks with their filters.
package patch

import (
	"errors"
	"fmt"
	"strings"

	"lightengine/internal/config"
	"lightengine/internal/dmx"
	"lightengine/internal/effect"
	"lightengine/internal/engine"
	"lightengine/internal/filter"
	"lightengine/internal/logger"
	"lightengine/internal/object"
)

var (
	ErrUnknownEffect     = errors.New("unknown effect type")
	ErrUnknownFilterKind = errors.New("unknown filter kind")
)

// Apply adds everything in cfg to reg, eng and iface. A broken entry is
// logged and skipped; the joined errors are returned.
func Apply(log logger.Logger, cfg *config.Config, reg *object.Registry, eng *engine.Engine, iface *dmx.Interface) error {
	l := log.With(logger.Fields{"module": "patch"})
	var errs []error
	fail := func(err error) {
		l.Warn(err)
		errs = append(errs, err)
	}

	for _, oc := range cfg.Objects {
		o, params, err := buildObject(oc, iface.DefaultAddress())
		if err != nil {
			fail(err)
			continue
		}
		if err := reg.Add(o); err != nil {
			fail(fmt.Errorf("object %d: %w", oc.ID, err))
			continue
		}
		if err := iface.RegisterObject(o, params); err != nil {
			fail(err)
		}
	}

	shared := map[effect.Layer]*effect.Stack{}
	added := 0
	for n, ec := range cfg.Effects {
		e, layer, err := buildEffect(ec)
		if err != nil {
			fail(fmt.Errorf("effect #%d %q: %w", n, ec.Name, err))
			continue
		}

		if layer == effect.ObjectLayer {
			if _, ok := reg.Get(ec.Object); !ok {
				fail(fmt.Errorf("effect #%d %q: %w: %d", n, ec.Name, object.ErrObjectNotFound, ec.Object))
				continue
			}
			eng.ObjectStack(ec.Object).Add(e)
		} else {
			s, ok := shared[layer]
			if !ok {
				s = effect.NewStack(layer.String(), layer)
				shared[layer] = s
				eng.AddStack(s)
			}
			s.Add(e)
		}
		added++
		l.Debugf("effect %s (%s) added to %s layer", e.Name, e.Processor().Type(), layer)
	}

	l.Infof("patched %d objects, %d effects", reg.Len(), added)
	return errors.Join(errs...)
}

func buildObject(oc config.ObjectConf, def dmx.Address) (*object.Object, dmx.ObjectParams, error) {
	var types []object.ComponentType
	for _, name := range oc.Components {
		t, err := object.ParseComponentType(name)
		if err != nil {
			return nil, dmx.ObjectParams{}, fmt.Errorf("object %d: %w", oc.ID, err)
		}
		types = append(types, t)
	}

	order, err := dmx.ParseByteOrder(oc.ByteOrder)
	if err != nil {
		return nil, dmx.ObjectParams{}, fmt.Errorf("object %d: %w", oc.ID, err)
	}
	params := dmx.ObjectParams{StartChannel: oc.StartChannel, ByteOrder: order}
	if oc.Net != nil || oc.Subnet != nil || oc.Universe != nil {
		a := def
		if oc.Net != nil {
			a.Net = *oc.Net
		}
		if oc.Subnet != nil {
			a.Subnet = *oc.Subnet
		}
		if oc.Universe != nil {
			a.Universe = *oc.Universe
		}
		if !a.Valid() {
			return nil, dmx.ObjectParams{}, fmt.Errorf("object %d: %w: %s", oc.ID, dmx.ErrInvalidAddress, a)
		}
		params.Address = &a
	}

	o := object.New(oc.ID, oc.Name, types...)
	o.Groups = append([]string(nil), oc.Groups...)
	o.Position = oc.Position
	for k, v := range oc.Custom {
		o.SetCustomParameter(k, v)
	}
	return o, params, nil
}

func buildEffect(ec config.EffectConf) (*effect.Effect, effect.Layer, error) {
	layer, err := effect.ParseLayer(ec.Layer)
	if err != nil {
		return nil, 0, err
	}

	var p effect.Processor
	switch strings.ToLower(ec.Type) {
	case "override":
		p = effect.NewOverride(ec.Parameter, ec.Value)
	case "offset":
		p = effect.NewOffset(ec.Parameter, ec.Value)
	case "wave":
		p = effect.NewWave(ec.Parameter, ec.Frequency, ec.Amplitude, ec.Value, ec.Phase)
	default:
		return nil, 0, fmt.Errorf("%w: %q", ErrUnknownEffect, ec.Type)
	}

	e := effect.New(ec.Name, p)
	e.SetEnabled(!ec.Disabled)
	if ec.Weight != nil {
		e.SetWeight(*ec.Weight)
	}
	if len(ec.Components) > 0 {
		var types []object.ComponentType
		for _, name := range ec.Components {
			t, err := object.ParseComponentType(name)
			if err != nil {
				return nil, 0, err
			}
			types = append(types, t)
		}
		e.SetComponents(types...)
	}

	if ec.Filter != nil {
		f, err := buildFilter(*ec.Filter)
		if err != nil {
			return nil, 0, err
		}
		e.SetFilter(f)
	}
	return e, layer, nil
}

func buildFilter(fc config.FilterConf) (*filter.Filter, error) {
	var kind filter.Kind
	switch strings.ToLower(fc.Kind) {
	case "", "all":
	case "group":
		kind = filter.NewGroupKind(fc.Groups...)
	case "distance":
		kind = filter.NewDistanceKind(fc.Center, fc.Radius, fc.Fade)
	case "custom":
		scale := 1.0
		if fc.Scale != nil {
			scale = *fc.Scale
		}
		kind = filter.NewCustomParameterKind(fc.Parameter, scale)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFilterKind, fc.Kind)
	}

	f := filter.New(kind)
	mode, err := filter.ParseIDMode(fc.IDMode)
	if err != nil {
		return nil, err
	}
	if err := f.SetIDMode(mode); err != nil {
		return nil, err
	}
	f.SetInvert(fc.Invert)
	f.SetExcludeFromScenes(fc.ExcludeFromScenes)
	return f, nil
}
