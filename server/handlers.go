package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/john/monox_bridge/bridge"
	"github.com/john/monox_bridge/printer"
)

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"result": s.printerStatus()})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"result": s.printerInfo()})
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"result": s.current().Diagnostics()})
}

func (s *Server) printerStatus() map[string]any {
	return statusPayload(s.current().State())
}

func (s *Server) printerInfo() map[string]any {
	data := s.current().State()
	if data.SysInfo == nil {
		return map[string]any{
			"identified": false,
			"phase":      data.Phase,
		}
	}
	return map[string]any{
		"identified": true,
		"phase":      data.Phase,
		"model":      data.SysInfo.Model,
		"firmware":   data.SysInfo.Firmware,
		"serial":     data.SysInfo.Serial,
		"wifi":       data.SysInfo.Wifi,
	}
}

// Reading is one labelled extras value.
type Reading struct {
	Key   string `json:"key"`
	Label string `json:"label"`
	Unit  string `json:"unit,omitempty"`
	Kind  string `json:"kind"`
	Value any    `json:"value"`
}

// Readings lists extras in catalog order with their presentation metadata.
// Keys missing from extras are skipped.
func Readings(extras printer.Extras) []Reading {
	out := make([]Reading, 0, len(extras))
	for _, sensor := range printer.Catalog() {
		v, ok := extras[sensor.Key]
		if !ok {
			continue
		}
		out = append(out, Reading{
			Key:   sensor.Key,
			Label: sensor.Label,
			Unit:  sensor.Unit,
			Kind:  sensor.Kind.String(),
			Value: v,
		})
	}
	return out
}

func statusPayload(data bridge.StateData) map[string]any {
	status, _ := data.Status.Status.Get()

	var updated any
	if !data.UpdatedAt.IsZero() {
		updated = data.UpdatedAt.Format(time.RFC3339)
	}

	return map[string]any{
		"status":     status,
		"online":     data.Phase == bridge.PhaseOnline && data.Failures == 0,
		"phase":      data.Phase,
		"failures":   data.Failures,
		"updated_at": updated,
		"extras":     Readings(data.Extras),
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("write response")
	}
}
