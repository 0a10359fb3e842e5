package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"lightengine/internal/dmx"
	"lightengine/internal/object"
)

type Health struct {
	Status    string `json:"status"`
	Device    string `json:"device"`
	Connected bool   `json:"connected"`
	State     string `json:"state"`
}

type UniverseInfo struct {
	Address string `json:"address"`
	Dirty   bool   `json:"dirty"`
}

type UniverseData struct {
	Address  string `json:"address"`
	Channels []int  `json:"channels"`
}

type ChainEntry struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Type      string  `json:"type"`
	Enabled   bool    `json:"enabled"`
	Weight    float64 `json:"weight"`
	Affecting bool    `json:"affecting"`
}

type TestingRequest struct {
	Enabled bool     `json:"enabled"`
	Flash   *float64 `json:"flash,omitempty"`
}

type SendRequest struct {
	Rate           *int         `json:"rate,omitempty"`
	ChangeOnly     *bool        `json:"changeOnly,omitempty"`
	DefaultAddress *dmx.Address `json:"defaultAddress,omitempty"`
}

type SendState struct {
	Rate           int         `json:"rate"`
	ChangeOnly     bool        `json:"changeOnly"`
	DefaultAddress dmx.Address `json:"defaultAddress"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	h := Health{Status: "ok", Connected: s.iface.Connected(), State: s.iface.State().String()}
	if d := s.iface.Device(); d != nil {
		h.Device = d.Name()
	}
	writeJSON(w, http.StatusOK, h)
}

func (s *Server) listUniverses(w http.ResponseWriter, _ *http.Request) {
	out := []UniverseInfo{}
	for _, u := range s.iface.Universes() {
		out = append(out, UniverseInfo{Address: u.Address().String(), Dirty: u.Dirty()})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getUniverse(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var n [3]int
	for i, k := range []string{"net", "subnet", "universe"} {
		v, err := strconv.Atoi(vars[k])
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("%s: %w", k, err))
			return
		}
		n[i] = v
	}

	u := s.iface.GetUniverse(n[0], n[1], n[2], false)
	if u == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("universe %d.%d.%d not found", n[0], n[1], n[2]))
		return
	}
	ch := u.Channels()
	data := UniverseData{Address: u.Address().String(), Channels: make([]int, len(ch))}
	for i, v := range ch {
		data.Channels[i] = int(v)
	}
	writeJSON(w, http.StatusOK, data)
}

func (s *Server) object(w http.ResponseWriter, r *http.Request) (*object.Object, bool) {
	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return nil, false
	}
	o, ok := s.registry.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("%w: %d", object.ErrObjectNotFound, id))
		return nil, false
	}
	return o, true
}

// objectValues returns the last published values keyed "component.parameter".
func (s *Server) objectValues(w http.ResponseWriter, r *http.Request) {
	o, ok := s.object(w, r)
	if !ok {
		return
	}
	resolved := o.Resolved()
	out := map[string]float64{}
	for _, c := range o.Components {
		for _, p := range c.Parameters {
			v, ok := resolved[p]
			if !ok {
				v = p.Base
			}
			out[c.Type.String()+"."+p.Name] = v
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) objectChain(w http.ResponseWriter, r *http.Request) {
	o, ok := s.object(w, r)
	if !ok {
		return
	}
	t, err := object.ParseComponentType(r.URL.Query().Get("component"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	out := []ChainEntry{}
	for _, e := range s.engine.ChainTargets(o, t) {
		out = append(out, ChainEntry{
			ID:        e.ID,
			Name:      e.Name,
			Type:      e.Processor().Type(),
			Enabled:   e.Enabled(),
			Weight:    e.Weight(),
			Affecting: s.engine.IsReallyAffecting(e, o),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) putTesting(w http.ResponseWriter, r *http.Request) {
	var req TestingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	_, flash := s.iface.ChannelTesting()
	if req.Flash != nil {
		flash = *req.Flash
	}
	if err := s.iface.SetChannelTesting(req.Enabled, flash); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	s.log.Infof("channel testing %v (flash %v)", req.Enabled, flash)
	enabled, flash := s.iface.ChannelTesting()
	writeJSON(w, http.StatusOK, TestingRequest{Enabled: enabled, Flash: &flash})
}

func (s *Server) putSend(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Rate != nil {
		if err := s.iface.SetSendRate(*req.Rate); err != nil {
			writeError(w, http.StatusUnprocessableEntity, err)
			return
		}
	}
	if a := req.DefaultAddress; a != nil {
		if err := s.iface.SetDefaultAddress(a.Net, a.Subnet, a.Universe); err != nil {
			writeError(w, http.StatusUnprocessableEntity, err)
			return
		}
	}
	if req.ChangeOnly != nil {
		s.iface.SetSendOnChangeOnly(*req.ChangeOnly)
	}
	writeJSON(w, http.StatusOK, SendState{
		Rate:           s.iface.SendRate(),
		ChangeOnly:     s.iface.SendOnChangeOnly(),
		DefaultAddress: s.iface.DefaultAddress(),
	})
}

func (s *Server) reshuffle(w http.ResponseWriter, _ *http.Request) {
	s.engine.Reshuffle()
	w.WriteHeader(http.StatusNoContent)
}
