package filter

// SceneData is the opaque snapshot used by scenes to store and interpolate
// filter state.
type SceneData map[string]any

// Sub returns a nested snapshot, accepting plain maps decoded from config.
func (d SceneData) Sub(key string) SceneData {
	switch v := d[key].(type) {
	case SceneData:
		return v
	case map[string]any:
		return SceneData(v)
	}
	return nil
}

// Float reads a numeric entry.
func (d SceneData) Float(key string) (float64, bool) {
	return toFloat(d[key])
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	}
	return 0, false
}

// Lerp is start*(1-w) + end*w, exact at both ends.
func Lerp(start, end, w float64) float64 {
	return start*(1-w) + end*w
}

// LerpDiscrete switches from start to end halfway.
func LerpDiscrete(start, end any, w float64) any {
	if w < 0.5 {
		return start
	}
	return end
}

// lerpFloat interpolates a numeric entry of both snapshots. ok is false when
// either side is missing or not numeric.
func lerpFloat(start, end SceneData, key string, w float64) (float64, bool) {
	a, okA := start.Float(key)
	b, okB := end.Float(key)
	if !okA || !okB {
		return 0, false
	}
	return Lerp(a, b, w), true
}
