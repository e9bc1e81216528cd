package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/senepa/Firebot/giveaways"
	"github.com/senepa/Firebot/options"
)

// HandleGiveawaysList returns every giveaway with its settings and lobby state.
func (h *Handlers) HandleGiveawaysList(w http.ResponseWriter, r *http.Request) {
	if h.deps.Giveaways == nil {
		unavailable(w, "giveaways")
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Giveaways.List())
}

type settingsRequest struct {
	Active   bool                      `json:"active"`
	Settings map[string]map[string]any `json:"settings"`
}

// HandleGiveawaySettings validates and saves settings, enabling or disabling the giveaway.
func (h *Handlers) HandleGiveawaySettings(w http.ResponseWriter, r *http.Request) {
	if h.deps.Giveaways == nil {
		unavailable(w, "giveaways")
		return
	}
	var req settingsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s, err := h.deps.Giveaways.UpdateSettings(r.Context(), r.PathValue("id"), req.Settings, req.Active)
	if err != nil {
		writeError(w, giveawayStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// HandleGiveawayReset restores default settings and disables the giveaway.
func (h *Handlers) HandleGiveawayReset(w http.ResponseWriter, r *http.Request) {
	if h.deps.Giveaways == nil {
		unavailable(w, "giveaways")
		return
	}
	id := r.PathValue("id")
	if err := h.deps.Giveaways.Reset(r.Context(), id); err != nil {
		writeError(w, giveawayStatus(err), err)
		return
	}
	s, _ := h.deps.Giveaways.Settings(id)
	writeJSON(w, http.StatusOK, s)
}

// HandleGiveawayStart opens the lobby; ?minutes= overrides the configured window.
func (h *Handlers) HandleGiveawayStart(w http.ResponseWriter, r *http.Request) {
	if h.deps.Giveaways == nil {
		unavailable(w, "giveaways")
		return
	}
	window := time.Duration(parseIntQuery(r, "minutes", 0)) * time.Minute
	lobbyID, err := h.deps.Giveaways.Start(r.Context(), r.PathValue("id"), window)
	if err != nil {
		writeError(w, giveawayStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"lobbyId": lobbyID})
}

// HandleGiveawayStop closes the lobby, settling or abandoning per its settings.
func (h *Handlers) HandleGiveawayStop(w http.ResponseWriter, r *http.Request) {
	if h.deps.Giveaways == nil {
		unavailable(w, "giveaways")
		return
	}
	stopped, err := h.deps.Giveaways.Stop(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, giveawayStatus(err), err)
		return
	}
	if !stopped {
		writeError(w, http.StatusConflict, giveaways.ErrNotOpen)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func giveawayStatus(err error) int {
	switch {
	case errors.Is(err, giveaways.ErrUnknownGiveaway):
		return http.StatusNotFound
	case errors.Is(err, options.ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, giveaways.ErrNotActive), errors.Is(err, giveaways.ErrLobbyOpen), errors.Is(err, giveaways.ErrNoCurrency):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}
