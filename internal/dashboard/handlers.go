package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/eddiefleurent/wheel_tracker/internal/batch"
	"github.com/eddiefleurent/wheel_tracker/internal/health"
	"github.com/eddiefleurent/wheel_tracker/internal/models"
	"github.com/eddiefleurent/wheel_tracker/internal/quotes"
	"github.com/eddiefleurent/wheel_tracker/internal/storage"
)

// defaultRetryAfter is sent with 429 responses when the limiter gives no hint.
const defaultRetryAfter = 60

// statusClientClosedRequest reports a request the caller abandoned.
const statusClientClosedRequest = 499

type errorBody struct {
	Error      string           `json:"error"`
	Code       string           `json:"code,omitempty"`
	Symbols    []string         `json:"symbols,omitempty"`
	Attempts   []quotes.Attempt `json:"attempts,omitempty"`
	RetryAfter int              `json:"retryAfter,omitempty"`
	Success    bool             `json:"success"`
}

type quoteRequest struct {
	Underlying     string  `json:"underlying"`
	ExpirationDate string  `json:"expirationDate"`
	OptionType     string  `json:"optionType"`
	StrikePrice    float64 `json:"strikePrice"`
}

type quoteResponse struct {
	*quotes.Quote
	ProcessingMs int64 `json:"processingTime"`
	Success      bool  `json:"success"`
}

func statusFor(code string) int {
	switch code {
	case quotes.CodeInvalidParams:
		return http.StatusBadRequest
	case quotes.CodeRateLimited:
		return http.StatusTooManyRequests
	case quotes.CodeNoWorkingSymbol:
		return http.StatusNotFound
	case quotes.CodeUpstreamUnavailable:
		return http.StatusBadGateway
	case quotes.CodeTimeout:
		return http.StatusGatewayTimeout
	case quotes.CodeCanceled:
		return statusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeQuoteError(w http.ResponseWriter, err error) {
	code := quotes.Code(err)
	body := errorBody{Error: err.Error(), Code: code}

	var resolveErr *quotes.ResolveError
	if errors.As(err, &resolveErr) {
		body.Symbols = resolveErr.Symbols
		body.Attempts = resolveErr.Attempts
	}

	var rl *quotes.RateLimitError
	if errors.As(err, &rl) {
		body.RetryAfter = defaultRetryAfter
		if rl.RetryAfter > 0 {
			body.RetryAfter = int(math.Ceil(rl.RetryAfter.Seconds()))
		}
		w.Header().Set("Retry-After", strconv.Itoa(body.RetryAfter))
	}

	log := s.logger.WithError(err).WithField("code", code)
	switch {
	case code == quotes.CodeCanceled:
		log.Info("Quote request abandoned by client")
	case quotes.IsResolveFailure(err), code == quotes.CodeInvalidParams, code == quotes.CodeRateLimited:
		log.Warn("Quote request failed")
	default:
		log.Error("Quote request failed")
	}
	writeJSON(w, statusFor(code), body)
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	start := s.now()

	var req quoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "request body must be JSON", Code: quotes.CodeInvalidParams})
		return
	}

	key, err := models.NewOptionContractKey(req.Underlying, req.ExpirationDate, req.OptionType, req.StrikePrice)
	if err != nil {
		s.writeQuoteError(w, err)
		return
	}

	q, err := s.quotes.ResolveQuote(r.Context(), key)
	if err != nil {
		s.writeQuoteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quoteResponse{Quote: q, Success: true, ProcessingMs: s.now().Sub(start).Milliseconds()})
}

func (s *Server) handleDiagnose(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "request body must be JSON", Code: quotes.CodeInvalidParams})
		return
	}

	key, err := models.NewOptionContractKey(req.Underlying, req.ExpirationDate, req.OptionType, req.StrikePrice)
	if err != nil {
		s.writeQuoteError(w, err)
		return
	}

	d, err := s.quotes.Diagnose(r.Context(), key)
	if err != nil {
		s.writeQuoteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		*quotes.Diagnosis
		Success bool `json:"success"`
	}{d, true})
}

func (s *Server) handleSymbolQuote(w http.ResponseWriter, r *http.Request) {
	start := s.now()
	symbol := strings.ToUpper(chi.URLParam(r, "symbol"))

	q, err := s.quotes.ResolveSymbol(r.Context(), symbol)
	if err != nil {
		s.writeQuoteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quoteResponse{Quote: q, Success: true, ProcessingMs: s.now().Sub(start).Milliseconds()})
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		quotes.CacheStats
		Success bool `json:"success"`
	}{s.quotes.Stats(), true})
}

func (s *Server) handleClearQuoteCache(w http.ResponseWriter, r *http.Request) {
	size := s.quotes.Stats().Size
	s.quotes.ClearCache()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":        true,
		"cleared":        size,
		"rateLimitReset": true,
	})
}

func (s *Server) handleConnection(w http.ResponseWriter, r *http.Request) {
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))
	state := s.conn.TestConnection(r.Context(), force)

	status := http.StatusOK
	if !state.Connected {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, struct {
		health.ConnectionState
		Success bool `json:"success"`
	}{state, state.Connected})
}

func (s *Server) handleClearConnectionCache(w http.ResponseWriter, r *http.Request) {
	s.conn.ClearCache()
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (s *Server) handleUpdatePrices(w http.ResponseWriter, r *http.Request) {
	s.runUpdate(w, r, s.updater.UpdateOpenTrades)
}

func (s *Server) handleFixMissingPrices(w http.ResponseWriter, r *http.Request) {
	s.runUpdate(w, r, s.updater.UpdateMissingPrices)
}

func (s *Server) runUpdate(w http.ResponseWriter, r *http.Request, update func(context.Context) (batch.Summary, error)) {
	summary, err := update(r.Context())
	switch {
	case errors.Is(err, batch.ErrUpdateInProgress):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error()})
		return
	case err != nil:
		s.logger.WithError(err).Error("Price update failed")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, struct {
		batch.Summary
		Success bool `json:"success"`
	}{summary, true})
}

type tradeRequest struct {
	Underlying      string  `json:"underlying"`
	OptionType      string  `json:"option_type"`
	ExpirationDate  string  `json:"expiration_date"`
	DateSold        string  `json:"date_sold"`
	StrikePrice     float64 `json:"strike_price"`
	PremiumReceived float64 `json:"premium_received"`
	Quantity        int     `json:"quantity"`
}

func (req tradeRequest) toTrade() (*models.Trade, error) {
	key, err := models.NewOptionContractKey(req.Underlying, req.ExpirationDate, req.OptionType, req.StrikePrice)
	if err != nil {
		return nil, err
	}
	t := &models.Trade{
		Underlying:      key.Underlying,
		OptionType:      key.OptionType,
		ExpirationDate:  key.Expiration,
		StrikePrice:     key.Strike,
		PremiumReceived: req.PremiumReceived,
		Quantity:        req.Quantity,
	}
	if req.DateSold != "" {
		sold, err := time.Parse(models.DateLayout, req.DateSold)
		if err != nil {
			return nil, errors.New("date_sold must be YYYY-MM-DD")
		}
		t.DateSold = sold
	}
	return t, nil
}

func (s *Server) handleAddTrade(w http.ResponseWriter, r *http.Request) {
	var req tradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "request body must be JSON"})
		return
	}
	t, err := req.toTrade()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	if err := s.storage.AddTrade(t); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, storage.ErrInvalidTrade) {
			status = http.StatusBadRequest
		} else {
			s.logger.WithError(err).Error("Failed to add trade")
		}
		writeJSON(w, status, errorBody{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleListTrades(w http.ResponseWriter, r *http.Request) {
	var (
		trades []models.Trade
		err    error
	)
	if r.URL.Query().Get("status") == string(models.TradeOpen) {
		trades, err = s.storage.ListOpenTrades()
	} else {
		trades, err = s.storage.ListTrades()
	}
	if err != nil {
		s.logger.WithError(err).Error("Failed to list trades")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, trades)
}

func (s *Server) handleGetTrade(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	t, err := s.storage.GetTrade(id)
	if errors.Is(err, storage.ErrTradeNotFound) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
		return
	}
	if err != nil {
		s.logger.WithError(err).Error("Failed to get trade")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// PositionView is one open trade in the P&L summary.
type PositionView struct {
	LastPriceUpdate *time.Time `json:"last_price_update,omitempty"`
	ID              string     `json:"id"`
	Contract        string     `json:"contract"`
	CurrentPrice    float64    `json:"current_price"`
	MaxProfit       float64    `json:"max_profit"`
	UnrealizedPnL   float64    `json:"unrealized_pnl"`
	ProfitPct       float64    `json:"profit_pct"`
	DTE             int        `json:"dte"`
	Priced          bool       `json:"priced"`
}

// Statistics aggregates the open positions.
type Statistics struct {
	Positions     []PositionView `json:"positions"`
	OpenTrades    int            `json:"open_trades"`
	Unpriced      int            `json:"unpriced"`
	MaxProfit     float64        `json:"max_profit"`
	UnrealizedPnL float64        `json:"unrealized_pnl"`
	ProfitPct     float64        `json:"profit_pct"`
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	trades, err := s.storage.ListOpenTrades()
	if err != nil {
		s.logger.WithError(err).Error("Failed to list open trades")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, calculateStatistics(trades, s.now()))
}

func calculateStatistics(trades []models.Trade, now time.Time) Statistics {
	stats := Statistics{Positions: make([]PositionView, 0, len(trades))}
	for i := range trades {
		t := &trades[i]
		view := PositionView{
			ID:            t.ID,
			Contract:      t.Key().String(),
			CurrentPrice:  t.CurrentOptionPrice,
			MaxProfit:     t.MaxProfit(),
			UnrealizedPnL: t.UnrealizedPnL(),
			ProfitPct:     t.ProfitPct(),
			DTE:           t.DaysToExpiration(now),
			Priced:        !t.LastPriceUpdate.IsZero(),
		}
		if view.Priced {
			ts := t.LastPriceUpdate
			view.LastPriceUpdate = &ts
		} else {
			stats.Unpriced++
		}
		stats.Positions = append(stats.Positions, view)
		stats.OpenTrades++
		stats.MaxProfit += view.MaxProfit
		stats.UnrealizedPnL += view.UnrealizedPnL
	}
	if stats.MaxProfit > 0 {
		stats.ProfitPct = stats.UnrealizedPnL / stats.MaxProfit * 100
	}
	return stats
}
