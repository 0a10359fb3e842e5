package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"lightengine/internal/config"
	"lightengine/internal/dmx"
	"lightengine/internal/effect"
	"lightengine/internal/engine"
	"lightengine/internal/logger"
	"lightengine/internal/metrics"
	"lightengine/internal/object"
)

type fixture struct {
	srv   *Server
	iface *dmx.Interface
	eng   *engine.Engine
	obj   *object.Object
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	m := metrics.New()
	reg := object.NewRegistry()
	o := object.New(7, "par", object.Intensity, object.Orientation)
	require.NoError(t, reg.Add(o))

	iface := dmx.NewInterface(logger.Discard(), m, config.DMXConf{SendRate: 40, SendOnChangeOnly: true})
	t.Cleanup(iface.Close)
	iface.SetDevice(dmx.NewMemoryDevice("mem"))

	eng := engine.New(logger.Discard(), reg, m, config.EngineConf{Rate: 50})
	s := effect.NewStack("global", effect.GlobalLayer)
	s.Add(effect.New("full", effect.NewOverride("value", 1)))
	eng.AddStack(s)
	eng.Process(0)

	return fixture{srv: New(logger.Discard(), iface, eng, reg, m), iface: iface, eng: eng, obj: o}
}

func (f fixture) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rr := httptest.NewRecorder()
	f.srv.Router().ServeHTTP(rr, req)
	return rr
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rr := f.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rr.Code)

	var h Health
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &h))
	require.Equal(t, Health{Status: "ok", Device: "mem", Connected: true, State: "idle"}, h)
}

func TestUniverses(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.iface.SetDMXValue(0, 1, 2, 3, []int{42}))

	rr := f.do(t, http.MethodGet, "/universes", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var list []UniverseInfo
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	require.Equal(t, []UniverseInfo{{Address: "0.1.2", Dirty: true}}, list)

	rr = f.do(t, http.MethodGet, "/universes/0/1/2", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var data UniverseData
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &data))
	require.Len(t, data.Channels, dmx.UniverseSize)
	require.Equal(t, 42, data.Channels[2])

	rr = f.do(t, http.MethodGet, "/universes/0/0/9", "")
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestObjectValuesAndChain(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodGet, "/objects/7/values", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var values map[string]float64
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &values))
	require.Equal(t, map[string]float64{"intensity.value": 1, "orientation.pan": 0.5, "orientation.tilt": 0.5}, values)

	rr = f.do(t, http.MethodGet, "/objects/7/chain?component=intensity", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var chain []ChainEntry
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &chain))
	require.Len(t, chain, 1)
	require.Equal(t, "full", chain[0].Name)
	require.Equal(t, "override", chain[0].Type)
	require.True(t, chain[0].Affecting)

	require.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/objects/7/chain?component=smoke", "").Code)
	require.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/objects/8/values", "").Code)
}

func TestPutTesting(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodPut, "/testing", `{"enabled":true,"flash":0.5}`)
	require.Equal(t, http.StatusOK, rr.Code)
	enabled, flash := f.iface.ChannelTesting()
	require.True(t, enabled)
	require.Equal(t, 0.5, flash)

	rr = f.do(t, http.MethodPut, "/testing", `{"enabled":true,"flash":2}`)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	_, flash = f.iface.ChannelTesting()
	require.Equal(t, 0.5, flash, "rejected values keep the previous state")

	require.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPut, "/testing", `{`).Code)
}

func TestPutSend(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodPut, "/send", `{"rate":25,"changeOnly":false,"defaultAddress":{"net":1,"subnet":0,"universe":4}}`)
	require.Equal(t, http.StatusOK, rr.Code)
	var st SendState
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &st))
	require.Equal(t, SendState{Rate: 25, ChangeOnly: false, DefaultAddress: dmx.Address{Net: 1, Universe: 4}}, st)

	require.Equal(t, http.StatusUnprocessableEntity, f.do(t, http.MethodPut, "/send", `{"rate":0}`).Code)
	require.Equal(t, 25, f.iface.SendRate())
}

func TestReshuffleAndMetrics(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusNoContent, f.do(t, http.MethodPost, "/engine/reshuffle", "").Code)
	require.Equal(t, http.StatusMethodNotAllowed, f.do(t, http.MethodGet, "/engine/reshuffle", "").Code)

	rr := f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "lightengine_device_connected 1")
}
