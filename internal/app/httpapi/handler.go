// Package httpapi exposes the sale ledger and staking engine over a
// small JSON REST surface.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/marbledao/market-layer/internal/app/domain/asset"
	"github.com/marbledao/market-layer/internal/app/domain/market"
	"github.com/marbledao/market-layer/internal/app/gateway"
	"github.com/marbledao/market-layer/internal/app/metrics"
	"github.com/marbledao/market-layer/internal/app/royalty"
	marketsvc "github.com/marbledao/market-layer/internal/app/services/market"
	stakingsvc "github.com/marbledao/market-layer/internal/app/services/staking"
	"github.com/marbledao/market-layer/pkg/logger"
)

// Handler routes API requests to the ledger services.
type Handler struct {
	market  *marketsvc.Service
	staking *stakingsvc.Service
	metrics *metrics.Metrics
	log     *logger.Logger
	mux     *http.ServeMux
}

// New builds the handler. metrics may be nil.
func New(market *marketsvc.Service, staking *stakingsvc.Service, m *metrics.Metrics, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	h := &Handler{market: market, staking: staking, metrics: m, log: log, mux: http.NewServeMux()}
	h.mux.HandleFunc("/health", h.health)
	h.mux.HandleFunc("/sales", h.sales)
	h.mux.HandleFunc("/sales/", h.saleResource)
	h.mux.HandleFunc("/staking/", h.stakingResource)
	h.mux.HandleFunc("/admin/market/", h.marketAdmin)
	h.mux.HandleFunc("/admin/staking/", h.stakingAdmin)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type saleRequest struct {
	Provider     string                `json:"provider"`
	SaleType     market.SaleType       `json:"sale_type"`
	Duration     market.DurationPolicy `json:"duration"`
	InitialPrice uint64                `json:"initial_price"`
	ReservePrice uint64                `json:"reserve_price"`
	Denom        asset.Denom           `json:"denom"`
}

type settlementResponse struct {
	Record  *market.SaleRecord `json:"record,omitempty"`
	Intents []gateway.Intent   `json:"intents"`
}

func (h *Handler) sales(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listSales(w, r)
	case http.MethodPost:
		h.createSale(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h *Handler) listSales(w http.ResponseWriter, r *http.Request) {
	var cursor uint64
	if raw := r.URL.Query().Get("cursor"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid cursor")
			return
		}
		cursor = parsed
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	recs, err := h.market.ListSales(r.Context(), cursor, limit)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sales": recs})
}

func (h *Handler) createSale(w http.ResponseWriter, r *http.Request) {
	var req struct {
		saleRequest
		ItemID uint64 `json:"item_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rec, err := h.market.ListSale(r.Context(), req.Provider, req.ItemID, req.SaleType, req.Duration, req.InitialPrice, req.ReservePrice, req.Denom)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.count(func(m *metrics.Metrics) { m.SalesListed.Inc() })
	writeJSON(w, http.StatusCreated, rec)
}

// saleResource handles /sales/{id} and /sales/{id}/{action}.
func (h *Handler) saleResource(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/sales/"), "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	itemID, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid item id")
		return
	}

	switch {
	case len(parts) == 1:
		switch r.Method {
		case http.MethodGet:
			h.getSale(w, r, itemID)
		case http.MethodPatch:
			h.editSale(w, r, itemID)
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	case len(parts) == 2 && parts[1] == "proposals" && r.Method == http.MethodPost:
		h.propose(w, r, itemID)
	case len(parts) == 3 && parts[1] == "proposals" && parts[2] == "cancel" && r.Method == http.MethodPost:
		h.cancelProposal(w, r, itemID)
	case len(parts) == 2 && parts[1] == "accept" && r.Method == http.MethodPost:
		h.acceptSale(w, r, itemID)
	case len(parts) == 2 && parts[1] == "cancel" && r.Method == http.MethodPost:
		h.cancelSale(w, r, itemID)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (h *Handler) getSale(w http.ResponseWriter, r *http.Request, itemID uint64) {
	rec, err := h.market.GetSale(r.Context(), itemID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) editSale(w http.ResponseWriter, r *http.Request, itemID uint64) {
	var req struct {
		saleRequest
		Caller string `json:"caller"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rec, err := h.market.EditSale(r.Context(), req.Caller, itemID, req.SaleType, req.Duration, req.InitialPrice, req.ReservePrice, req.Denom)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) propose(w http.ResponseWriter, r *http.Request, itemID uint64) {
	var req struct {
		Bidder string      `json:"bidder"`
		Amount uint64      `json:"amount"`
		Denom  asset.Denom `json:"denom"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rec, intents, err := h.market.Propose(r.Context(), req.Bidder, itemID, req.Amount, req.Denom)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.count(func(m *metrics.Metrics) {
		m.Proposals.Inc()
		if len(intents) > 0 {
			m.Settlements.Inc()
			m.IntentsQueued.Add(float64(len(intents)))
		}
	})
	writeJSON(w, http.StatusOK, settlementResponse{Record: &rec, Intents: intents})
}

func (h *Handler) cancelProposal(w http.ResponseWriter, r *http.Request, itemID uint64) {
	var req struct {
		Caller string `json:"caller"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rec, intents, err := h.market.CancelProposal(r.Context(), req.Caller, itemID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.count(func(m *metrics.Metrics) { m.IntentsQueued.Add(float64(len(intents))) })
	writeJSON(w, http.StatusOK, settlementResponse{Record: &rec, Intents: intents})
}

func (h *Handler) acceptSale(w http.ResponseWriter, r *http.Request, itemID uint64) {
	var req struct {
		Caller string `json:"caller"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	intents, err := h.market.AcceptSale(r.Context(), req.Caller, itemID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.count(func(m *metrics.Metrics) {
		m.Settlements.Inc()
		m.IntentsQueued.Add(float64(len(intents)))
	})
	writeJSON(w, http.StatusOK, settlementResponse{Intents: intents})
}

func (h *Handler) cancelSale(w http.ResponseWriter, r *http.Request, itemID uint64) {
	var req struct {
		Caller string `json:"caller"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	intents, err := h.market.CancelSale(r.Context(), req.Caller, itemID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.count(func(m *metrics.Metrics) { m.IntentsQueued.Add(float64(len(intents))) })
	writeJSON(w, http.StatusOK, settlementResponse{Intents: intents})
}

// stakingResource handles /staking/{staker} and /staking/{staker}/{action}.
func (h *Handler) stakingResource(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/staking/"), "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	staker := parts[0]

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		rec, err := h.staking.GetStaking(r.Context(), staker)
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
		return
	}

	if len(parts) != 2 || r.Method != http.MethodPost {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	switch parts[1] {
	case "stake":
		var req struct {
			ItemID uint64 `json:"item_id"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		rec, err := h.staking.Stake(r.Context(), staker, req.ItemID)
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	case "claim":
		rec, intents, err := h.staking.Claim(r.Context(), staker)
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		h.count(func(m *metrics.Metrics) {
			m.Claims.Inc()
			m.IntentsQueued.Add(float64(len(intents)))
		})
		writeJSON(w, http.StatusOK, map[string]interface{}{"record": rec, "intents": intents})
	case "unstake":
		rec, err := h.staking.CreateUnstake(r.Context(), staker)
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	case "withdraw":
		intents, err := h.staking.FetchUnstake(r.Context(), staker)
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		h.count(func(m *metrics.Metrics) { m.IntentsQueued.Add(float64(len(intents))) })
		writeJSON(w, http.StatusOK, settlementResponse{Intents: intents})
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (h *Handler) marketAdmin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	switch strings.TrimPrefix(r.URL.Path, "/admin/market/") {
	case "royalties":
		var req struct {
			Caller     string          `json:"caller"`
			CeilingPPM uint64          `json:"ceiling_ppm"`
			Entries    []royalty.Entry `json:"entries"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		cfg, err := h.market.UpdateRoyalties(r.Context(), req.Caller, req.CeilingPPM, req.Entries)
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, cfg)
	case "enabled":
		var req struct {
			Caller  string `json:"caller"`
			Enabled bool   `json:"enabled"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		cfg, err := h.market.SetEnabled(r.Context(), req.Caller, req.Enabled)
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, cfg)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (h *Handler) stakingAdmin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	switch strings.TrimPrefix(r.URL.Path, "/admin/staking/") {
	case "rewards":
		var req struct {
			Caller            string `json:"caller"`
			RewardPerInterval uint64 `json:"reward_per_interval"`
			Interval          uint64 `json:"interval"`
			LockTime          uint64 `json:"lock_time"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		cfg, err := h.staking.UpdateRewards(r.Context(), req.Caller, req.RewardPerInterval, req.Interval, req.LockTime)
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, cfg)
	case "enabled":
		var req struct {
			Caller  string `json:"caller"`
			Enabled bool   `json:"enabled"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		cfg, err := h.staking.SetEnabled(r.Context(), req.Caller, req.Enabled)
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, cfg)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (h *Handler) count(fn func(*metrics.Metrics)) {
	if h.metrics != nil {
		fn(h.metrics)
	}
}

// writeServiceError translates service sentinels into HTTP statuses.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		h.log.WithError(err).Error("request failed")
	}
	writeError(w, status, err.Error())
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, marketsvc.ErrUnauthorized), errors.Is(err, stakingsvc.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, marketsvc.ErrNotOnSale), errors.Is(err, stakingsvc.ErrNotStaked):
		return http.StatusNotFound
	case errors.Is(err, marketsvc.ErrAlreadyOnSale),
		errors.Is(err, marketsvc.ErrCannotCancelSale),
		errors.Is(err, marketsvc.ErrNoBids),
		errors.Is(err, marketsvc.ErrAlreadyExpired),
		errors.Is(err, marketsvc.ErrNotStarted),
		errors.Is(err, marketsvc.ErrDisabled),
		errors.Is(err, stakingsvc.ErrDisabled),
		errors.Is(err, stakingsvc.ErrStillInLock),
		errors.Is(err, stakingsvc.ErrUnstakeNotRequested),
		errors.Is(err, stakingsvc.ErrNoReward),
		errors.Is(err, stakingsvc.ErrInsufficientFunds):
		return http.StatusConflict
	case errors.Is(err, marketsvc.ErrInvalidSaleType),
		errors.Is(err, marketsvc.ErrDurationIncorrect),
		errors.Is(err, marketsvc.ErrLowerPrice),
		errors.Is(err, marketsvc.ErrLowerThanPrevious),
		errors.Is(err, marketsvc.ErrDenomMismatch),
		errors.Is(err, marketsvc.ErrZeroAmount),
		errors.Is(err, royalty.ErrEmptyTable),
		errors.Is(err, royalty.ErrFirstEntryOwner),
		errors.Is(err, royalty.ErrRateCeiling),
		errors.Is(err, royalty.ErrEmptyBeneficiary),
		errors.Is(err, royalty.ErrCeilingOutOfRange):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(r *http.Request, dst interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
