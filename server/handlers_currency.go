package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/senepa/Firebot/currency"
)

type currencyView struct {
	currency.Currency
	Circulation int64 `json:"circulation"`
}

// HandleCurrenciesList returns every currency with the amount in circulation.
func (h *Handlers) HandleCurrenciesList(w http.ResponseWriter, r *http.Request) {
	if h.deps.Ledger == nil {
		unavailable(w, "currency")
		return
	}
	out := make([]currencyView, 0)
	for _, c := range h.deps.Ledger.GetCurrencies() {
		total, err := h.deps.Ledger.TotalInCirculation(r.Context(), c.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		out = append(out, currencyView{Currency: c, Circulation: total})
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleCurrencyCreate defines a new currency.
func (h *Handlers) HandleCurrencyCreate(w http.ResponseWriter, r *http.Request) {
	if h.deps.Ledger == nil {
		unavailable(w, "currency")
		return
	}
	var c currency.Currency
	if err := decodeJSON(r, &c); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	c.ID = ""
	created, err := h.deps.Ledger.CreateCurrency(r.Context(), c)
	if err != nil {
		writeError(w, currencyStatus(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// HandleCurrencyUpdate edits a currency definition.
func (h *Handlers) HandleCurrencyUpdate(w http.ResponseWriter, r *http.Request) {
	if h.deps.Ledger == nil {
		unavailable(w, "currency")
		return
	}
	var c currency.Currency
	if err := decodeJSON(r, &c); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	c.ID = r.PathValue("id")
	if err := h.deps.Ledger.UpdateCurrency(r.Context(), c); err != nil {
		writeError(w, currencyStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// HandleCurrencyDelete removes a currency and every balance in it.
func (h *Handlers) HandleCurrencyDelete(w http.ResponseWriter, r *http.Request) {
	if h.deps.Ledger == nil {
		unavailable(w, "currency")
		return
	}
	if err := h.deps.Ledger.DeleteCurrency(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, currencyStatus(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleCurrencyPurge resets every balance of a currency to zero.
func (h *Handlers) HandleCurrencyPurge(w http.ResponseWriter, r *http.Request) {
	if h.deps.Ledger == nil {
		unavailable(w, "currency")
		return
	}
	if err := h.deps.Ledger.Purge(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, currencyStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "purged"})
}

type adjustRequest struct {
	Username string `json:"username"`
	Amount   int64  `json:"amount"`
	Mode     string `json:"mode"`
}

// HandleCurrencyAdjust adds to (or with mode "set", replaces) one viewer's balance.
func (h *Handlers) HandleCurrencyAdjust(w http.ResponseWriter, r *http.Request) {
	if h.deps.Ledger == nil {
		unavailable(w, "currency")
		return
	}
	id := r.PathValue("id")
	if _, ok := h.deps.Ledger.GetCurrencyByID(id); !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("%w: %s", currency.ErrUnknownCurrency, id))
		return
	}
	var req adjustRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Username == "" {
		writeError(w, http.StatusBadRequest, errors.New("username required"))
		return
	}
	if !h.deps.Ledger.AdjustForUser(r.Context(), req.Username, id, req.Amount, currency.ParseMode(req.Mode)) {
		writeError(w, http.StatusUnprocessableEntity, fmt.Errorf("balance for %s was not changed", req.Username))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"username": req.Username,
		"amount":   h.deps.Ledger.GetAmount(r.Context(), req.Username, id),
	})
}

// HandleCurrencyTop returns the ?count= (default 10) highest balances.
func (h *Handlers) HandleCurrencyTop(w http.ResponseWriter, r *http.Request) {
	if h.deps.Ledger == nil {
		unavailable(w, "currency")
		return
	}
	n := parseIntQuery(r, "count", 10)
	if n <= 0 || n > 500 {
		n = 10
	}
	holders, err := h.deps.Ledger.TopHolders(r.Context(), r.PathValue("id"), n)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, holders)
}

// HandleCurrencyHolders returns every viewer's balance, highest first.
func (h *Handlers) HandleCurrencyHolders(w http.ResponseWriter, r *http.Request) {
	if h.deps.Ledger == nil {
		unavailable(w, "currency")
		return
	}
	holders, err := h.deps.Ledger.AllHolders(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, holders)
}

func currencyStatus(err error) int {
	switch {
	case errors.Is(err, currency.ErrUnknownCurrency):
		return http.StatusNotFound
	case errors.Is(err, currency.ErrDuplicateName):
		return http.StatusConflict
	case errors.Is(err, currency.ErrInvalidCurrency):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
