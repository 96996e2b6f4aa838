package livefeed

import (
	"encoding/json"
	"net/http"

	"github.com/golang/glog"
	"github.com/gorilla/mux"

	"bytefi.sh/pkg/worldmap/livedata"
)

type Handler struct {
	hub *Hub
}

func NewHandler(hub *Hub) *Handler {
	return &Handler{hub: hub}
}

func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.Handle("/ws", h.hub)
	r.HandleFunc(livedata.PlayersPath, h.playersHandler).Methods("GET")
	r.HandleFunc(livedata.LocationsPath, h.locationsHandler).Methods("GET")
}

func (h *Handler) playersHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.hub.Snapshot().Players)
}

func (h *Handler) locationsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.hub.Snapshot().Locations)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		glog.Errorf("livefeed: encoding response: %v", err)
		http.Error(w, "failed to encode", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write(data)
}
