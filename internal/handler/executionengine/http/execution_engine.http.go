package http

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/guregu/null/v6"
	"github.com/krobus00/execution-engine/internal/config"
	"github.com/krobus00/execution-engine/internal/entity"
	"github.com/krobus00/execution-engine/internal/service/executionengine"
	"github.com/shopspring/decimal"
)

var (
	errAPIKeyMissing  = errors.New("api key is required")
	errAPIKeyInvalid  = errors.New("invalid api key")
	errAPIKeyInactive = errors.New("api key is inactive")
	errAPIKeyExpired  = errors.New("api key is expired")
)

type SubmitOrderRequest struct {
	ApiKey    string `json:"api_key"`
	OrderID   string `json:"order_id"`
	SignalID  string `json:"signal_id"`
	Symbol    string `json:"symbol"`
	Side      string `json:"side"`
	Type      string `json:"type"`
	Amount    string `json:"amount"`
	Price     string `json:"price"`
	StopPrice string `json:"stop_price"`
	Priority  string `json:"priority"`
}

type SubmitOrderResponse struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

type CancelOrderRequest struct {
	ApiKey  string `json:"api_key"`
	OrderID string `json:"order_id"`
}

type OrderResponse struct {
	OrderID         string  `json:"order_id"`
	SignalID        *string `json:"signal_id,omitempty"`
	Symbol          string  `json:"symbol"`
	Side            string  `json:"side"`
	Type            string  `json:"type"`
	Priority        string  `json:"priority"`
	Sequence        uint64  `json:"sequence"`
	Status          string  `json:"status"`
	Amount          string  `json:"amount"`
	Price           *string `json:"price,omitempty"`
	StopPrice       *string `json:"stop_price,omitempty"`
	FilledAmount    string  `json:"filled_amount"`
	RemainingAmount string  `json:"remaining_amount"`
	Cost            string  `json:"cost"`
	Slippage        string  `json:"slippage"`
	FailureReason   *string `json:"failure_reason,omitempty"`
	CreatedAt       int64   `json:"created_at"`
	SubmittedAt     *int64  `json:"submitted_at,omitempty"`
	FilledAt        *int64  `json:"filled_at,omitempty"`
}

type Handler struct {
	engine *executionengine.ExecutionEngineService
}

func NewExecutionEngineHTTPHandler(engine *executionengine.ExecutionEngineService) *Handler {
	return &Handler{engine: engine}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/engine/v1/orders", h.Orders)
	mux.HandleFunc("/engine/v1/orders/status", h.OrderStatus)
	mux.HandleFunc("/engine/v1/orders/cancel", h.CancelOrder)
	mux.HandleFunc("/engine/v1/status", h.EngineStatus)
	mux.HandleFunc("/engine/v1/positions", h.Positions)
	mux.HandleFunc("/engine/v1/analytics", h.Analytics)
}

// Orders handles POST (submit) and GET (recent orders).
func (h *Handler) Orders(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.submitOrder(w, r)
	case http.MethodGet:
		h.recentOrders(w, r)
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
	}
}

func (h *Handler) submitOrder(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var req SubmitOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json body"})
		return
	}

	if err := validateAPIKey(resolveAPIKey(r, req.ApiKey)); err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": err.Error()})
		return
	}

	orderReq, err := mapHTTPRequestToOrderRequest(&req)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}

	orderID, err := h.engine.SubmitOrder(r.Context(), orderReq)
	if err != nil {
		switch {
		case errors.Is(err, executionengine.ErrInvalidOrder):
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		case errors.Is(err, executionengine.ErrDuplicateOrder):
			writeJSON(w, http.StatusConflict, map[string]any{"error": "duplicate order"})
		case errors.Is(err, executionengine.ErrQueueSaturated):
			writeJSON(w, http.StatusTooManyRequests, map[string]any{"error": "order queue saturated"})
		case errors.Is(err, executionengine.ErrEngineNotRunning):
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "engine is not running"})
		default:
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal server error"})
		}
		return
	}

	writeJSON(w, http.StatusAccepted, SubmitOrderResponse{
		OrderID: orderID,
		Status:  string(entity.OrderStatusPending),
	})
}

func (h *Handler) recentOrders(w http.ResponseWriter, r *http.Request) {
	if err := validateAPIKey(resolveAPIKey(r, "")); err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": err.Error()})
		return
	}

	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid limit"})
			return
		}
		limit = parsed
	}

	orders := h.engine.GetRecentOrders(limit)

	responses := make([]*OrderResponse, 0, len(orders))
	for _, order := range orders {
		responses = append(responses, mapOrderToHTTPResponse(order))
	}

	writeJSON(w, http.StatusOK, map[string]any{"orders": responses})
}

func (h *Handler) OrderStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}

	if err := validateAPIKey(resolveAPIKey(r, "")); err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": err.Error()})
		return
	}

	orderID := strings.TrimSpace(r.URL.Query().Get("order_id"))
	if orderID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "order_id is required"})
		return
	}

	order, err := h.engine.GetOrder(orderID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "order not found"})
		return
	}

	writeJSON(w, http.StatusOK, mapOrderToHTTPResponse(order))
}

func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}

	defer r.Body.Close()

	var req CancelOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json body"})
		return
	}

	if err := validateAPIKey(resolveAPIKey(r, req.ApiKey)); err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": err.Error()})
		return
	}

	if strings.TrimSpace(req.OrderID) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "order_id is required"})
		return
	}

	if err := h.engine.CancelOrder(req.OrderID); err != nil {
		switch {
		case errors.Is(err, executionengine.ErrOrderNotFound):
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "order not found"})
		default:
			writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error()})
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"order_id": req.OrderID,
		"status":   string(entity.OrderStatusCancelled),
	})
}

func (h *Handler) EngineStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}

	if err := validateAPIKey(resolveAPIKey(r, "")); err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, h.engine.GetEngineStatus())
}

func (h *Handler) Positions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}

	if err := validateAPIKey(resolveAPIKey(r, "")); err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"positions": h.engine.GetPositions(),
		"portfolio": h.engine.GetPortfolioPnl(),
	})
}

func (h *Handler) Analytics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}

	if err := validateAPIKey(resolveAPIKey(r, "")); err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, h.engine.GetAnalytics())
}

func mapHTTPRequestToOrderRequest(req *SubmitOrderRequest) (entity.OrderRequest, error) {
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return entity.OrderRequest{}, errors.New("invalid amount")
	}

	var price *decimal.Decimal
	if strings.TrimSpace(req.Price) != "" {
		parsed, err := decimal.NewFromString(req.Price)
		if err != nil {
			return entity.OrderRequest{}, errors.New("invalid price")
		}
		price = &parsed
	}

	var stopPrice *decimal.Decimal
	if strings.TrimSpace(req.StopPrice) != "" {
		parsed, err := decimal.NewFromString(req.StopPrice)
		if err != nil {
			return entity.OrderRequest{}, errors.New("invalid stop price")
		}
		stopPrice = &parsed
	}

	priority := entity.PriorityNormal
	if raw := strings.TrimSpace(req.Priority); raw != "" {
		parsed, ok := entity.ParsePriority(strings.ToUpper(raw))
		if !ok {
			return entity.OrderRequest{}, errors.New("invalid priority")
		}
		priority = parsed
	}

	return entity.OrderRequest{
		OrderID:   strings.TrimSpace(req.OrderID),
		SignalID:  null.NewString(req.SignalID, req.SignalID != "").Ptr(),
		Symbol:    strings.TrimSpace(req.Symbol),
		Side:      entity.OrderSide(strings.ToUpper(req.Side)),
		Type:      entity.OrderType(strings.ToUpper(req.Type)),
		Amount:    amount,
		Price:     price,
		StopPrice: stopPrice,
		Priority:  priority,
	}, nil
}

func mapOrderToHTTPResponse(order entity.Order) *OrderResponse {
	var price *string
	if order.Price != nil {
		v := order.Price.String()
		price = &v
	}

	var stopPrice *string
	if order.StopPrice != nil {
		v := order.StopPrice.String()
		stopPrice = &v
	}

	var failureReason *string
	if order.FailureReason != "" {
		v := order.FailureReason
		failureReason = &v
	}

	var submittedAt *int64
	if order.SubmittedAt != nil {
		v := order.SubmittedAt.UnixMilli()
		submittedAt = &v
	}

	var filledAt *int64
	if order.FilledAt != nil {
		v := order.FilledAt.UnixMilli()
		filledAt = &v
	}

	return &OrderResponse{
		OrderID:         order.OrderID,
		SignalID:        order.SignalID,
		Symbol:          order.Symbol,
		Side:            string(order.Side),
		Type:            string(order.Type),
		Priority:        order.Priority.String(),
		Sequence:        order.Sequence,
		Status:          string(order.Status),
		Amount:          order.Amount.String(),
		Price:           price,
		StopPrice:       stopPrice,
		FilledAmount:    order.FilledAmount.String(),
		RemainingAmount: order.RemainingAmount.String(),
		Cost:            order.Cost.String(),
		Slippage:        order.Slippage.String(),
		FailureReason:   failureReason,
		CreatedAt:       order.CreatedAt.UnixMilli(),
		SubmittedAt:     submittedAt,
		FilledAt:        filledAt,
	}
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func resolveAPIKey(r *http.Request, bodyKey string) string {
	if headerKey := strings.TrimSpace(r.Header.Get("X-API-Key")); headerKey != "" {
		return headerKey
	}

	return strings.TrimSpace(bodyKey)
}

func validateAPIKey(rawAPIKey string) error {
	if config.Env == nil || len(config.Env.APIKeys) == 0 {
		// No keys configured means auth is disabled, e.g. in tests and
		// local development.
		return nil
	}

	apiKey := strings.TrimSpace(rawAPIKey)
	if apiKey == "" {
		return errAPIKeyMissing
	}

	now := time.Now().UTC()
	for _, candidate := range config.Env.APIKeys {
		storedKey := strings.TrimSpace(candidate.Key)
		if storedKey == "" {
			continue
		}

		if subtle.ConstantTimeCompare([]byte(apiKey), []byte(storedKey)) != 1 {
			continue
		}

		if !candidate.Active {
			return errAPIKeyInactive
		}

		expiredAt, hasExpiry, err := parseExpiry(candidate.ExpiredAt)
		if err != nil {
			return errAPIKeyInvalid
		}
		if hasExpiry && !now.Before(expiredAt) {
			return errAPIKeyExpired
		}

		return nil
	}

	return errAPIKeyInvalid
}

func parseExpiry(value any) (time.Time, bool, error) {
	if value == nil {
		return time.Time{}, false, nil
	}

	switch v := value.(type) {
	case time.Time:
		if v.IsZero() {
			return time.Time{}, false, nil
		}
		return v.UTC(), true, nil
	case string:
		raw := strings.TrimSpace(v)
		if raw == "" {
			return time.Time{}, false, nil
		}

		if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
			return parsed.UTC(), true, nil
		}

		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return time.Time{}, false, err
		}

		return parsed.UTC().Add(24 * time.Hour), true, nil
	default:
		return time.Time{}, false, errors.New("unsupported expiry type")
	}
}
