package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/senepa/Firebot/commands"
	"github.com/senepa/Firebot/options"
)

// HandleCommandsRefresh reloads the command cache and flushes cooldowns.
func (h *Handlers) HandleCommandsRefresh(w http.ResponseWriter, r *http.Request) {
	if h.deps.Registry == nil {
		unavailable(w, "commands")
		return
	}
	if err := h.deps.Registry.RefreshCommandCache(r.Context()); err != nil {
		h.log(r.Context()).Error("command cache refresh failed", slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleSystemCommandsList returns system command definitions with overrides applied.
func (h *Handlers) HandleSystemCommandsList(w http.ResponseWriter, r *http.Request) {
	if h.deps.Registry == nil {
		unavailable(w, "commands")
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Registry.GetAllSystemCommandDefinitions())
}

// HandleSystemCommandOverride saves operator edits to a system command.
func (h *Handlers) HandleSystemCommandOverride(w http.ResponseWriter, r *http.Request) {
	if h.deps.Registry == nil {
		unavailable(w, "commands")
		return
	}
	var cmd commands.Command
	if err := decodeJSON(r, &cmd); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	cmd.ID = r.PathValue("id")
	if err := h.deps.Registry.SaveSystemCommandOverride(r.Context(), cmd); err != nil {
		writeError(w, commandStatus(err), err)
		return
	}
	sc, _ := h.deps.Registry.GetSystemCommandByID(cmd.ID)
	writeJSON(w, http.StatusOK, sc.Definition)
}

// HandleSystemCommandReset drops a system command override.
func (h *Handlers) HandleSystemCommandReset(w http.ResponseWriter, r *http.Request) {
	if h.deps.Registry == nil {
		unavailable(w, "commands")
		return
	}
	id := r.PathValue("id")
	if !h.deps.Registry.HasSystemCommand(id) {
		writeError(w, http.StatusNotFound, commands.ErrUnknownCommand)
		return
	}
	if err := h.deps.Registry.RemoveSystemCommandOverride(r.Context(), id); err != nil {
		writeError(w, commandStatus(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleCustomCommandsList returns every custom command.
func (h *Handlers) HandleCustomCommandsList(w http.ResponseWriter, r *http.Request) {
	if h.deps.Registry == nil {
		unavailable(w, "commands")
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Registry.GetAllCustomCommands())
}

// HandleCustomCommandSave creates or updates a custom command. The editor is
// taken from the ?user= query parameter.
func (h *Handlers) HandleCustomCommandSave(w http.ResponseWriter, r *http.Request) {
	if h.deps.Registry == nil {
		unavailable(w, "commands")
		return
	}
	var cmd commands.Command
	if err := decodeJSON(r, &cmd); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	user := r.URL.Query().Get("user")
	if user == "" {
		user = "operator"
	}
	saved, err := h.deps.Registry.SaveCustomCommand(r.Context(), cmd, user)
	if err != nil {
		writeError(w, commandStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

// HandleCustomCommandDelete removes a custom command.
func (h *Handlers) HandleCustomCommandDelete(w http.ResponseWriter, r *http.Request) {
	if h.deps.Registry == nil {
		unavailable(w, "commands")
		return
	}
	if err := h.deps.Registry.RemoveCustomCommand(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, commandStatus(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleCustomCommandTrigger fires a custom command as the streamer.
func (h *Handlers) HandleCustomCommandTrigger(w http.ResponseWriter, r *http.Request) {
	if h.deps.Dispatcher == nil {
		unavailable(w, "dispatcher")
		return
	}
	if err := h.deps.Dispatcher.TriggerCustomCommand(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, commandStatus(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "triggered"})
}

func commandStatus(err error) int {
	switch {
	case errors.Is(err, commands.ErrUnknownCommand):
		return http.StatusNotFound
	case errors.Is(err, commands.ErrInvalidCommand), errors.Is(err, options.ErrInvalid):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
