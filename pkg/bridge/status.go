// Copyright 2024-2026 Aiku AI

package bridge

import (
	"encoding/json"
	"net/http"
)

// Status is the snapshot served by the status endpoint.
type Status struct {
	State       string   `json:"state"`
	LocalUser   string   `json:"local_user"`
	Provisioned []string `json:"provisioned"`
	Sent        int64    `json:"sent"`
	Failed      int64    `json:"failed"`
}

// Status returns the adapter's current state and counters.
func (a *Adapter) Status() Status {
	provisioned := a.provisioner.Ensured()
	if provisioned == nil {
		provisioned = []string{}
	}
	return Status{
		State:       a.State().String(),
		LocalUser:   a.owner.Name(),
		Provisioned: provisioned,
		Sent:        a.sent.Load(),
		Failed:      a.failed.Load(),
	}
}

// HandleStatus is an HTTP handler for GET /api/status.
func (a *Adapter) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(a.Status()); err != nil {
		a.log.Warn().Err(err).Msg("Failed to write status response")
	}
}

// NewStatusMux returns a mux serving the adapter's status endpoint.
func NewStatusMux(a *Adapter) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", a.HandleStatus)
	return mux
}
