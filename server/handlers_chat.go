package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/senepa/Firebot/chat"
)

type sendRequest struct {
	Message string `json:"message"`
	// Account is "streamer" or "bot" (default bot, falling back to the streamer).
	Account string `json:"account"`
	Whisper string `json:"whisper,omitempty"`
}

// HandleChatSend posts a message. Messages sent as the streamer are fed back
// through the command pipeline by the transport.
func (h *Handlers) HandleChatSend(w http.ResponseWriter, r *http.Request) {
	if h.deps.Chat == nil {
		unavailable(w, "chat")
		return
	}
	var req sendRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, errors.New("message required"))
		return
	}
	acct := chat.AccountBot
	if strings.EqualFold(req.Account, string(chat.AccountStreamer)) {
		acct = chat.AccountStreamer
	}
	err := h.deps.Chat.Send(r.Context(), req.Message, chat.SendOptions{Account: acct, Whisper: req.Whisper})
	switch {
	case errors.Is(err, chat.ErrNotConnected):
		writeError(w, http.StatusServiceUnavailable, err)
		return
	case err != nil:
		h.log(r.Context()).Warn("chat send failed", slog.Any("err", err))
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}
