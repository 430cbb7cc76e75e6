package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"rates-engine/internal/domain/model"
	"rates-engine/internal/domain/ports"
	"rates-engine/internal/metrics"
	"rates-engine/internal/service"
	"rates-engine/pkg/logger"
	"rates-engine/pkg/utils"
)

type Response struct {
	Success     bool        `json:"success"`
	Data        interface{} `json:"data,omitempty"`
	Unsupported []string    `json:"unsupported,omitempty"`
	Error       string      `json:"error,omitempty"`
}

type Handler struct {
	service ports.RateService
	log     *logger.Logger
	metrics *metrics.Metrics
}

func NewHandler(service ports.RateService, log *logger.Logger, metrics *metrics.Metrics) *Handler {
	return &Handler{
		service: service,
		log:     log,
		metrics: metrics,
	}
}

type marketInput struct {
	Base  model.Currency `json:"base"`
	Quote model.Currency `json:"quote"`
}

type timeframeInput struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// historicalInput is one element of a POST /api/v1/rates/historical body:
// either a market with a date or a market with a timeframe.
type historicalInput struct {
	Market    marketInput     `json:"market"`
	Date      string          `json:"date,omitempty"`
	Timeframe *timeframeInput `json:"timeframe,omitempty"`
}

func parseDate(dateStr string) (time.Time, error) {
	if dateStr == "" {
		return time.Time{}, nil
	}
	return utils.ParseDate(dateStr)
}

func parseMarkets(raw string) ([]model.Market, error) {
	var markets []model.Market
	for _, id := range strings.Split(raw, ",") {
		id = strings.ToUpper(strings.TrimSpace(id))
		if id == "" {
			continue
		}
		m, err := model.MarketFromID(id)
		if err != nil {
			return nil, err
		}
		markets = append(markets, m)
	}
	if len(markets) == 0 {
		return nil, model.ErrInvalidMarket
	}
	return markets, nil
}

func parseDates(raw string) ([]time.Time, error) {
	var dates []time.Time
	for _, s := range strings.Split(raw, ",") {
		d, err := utils.ParseDate(strings.TrimSpace(s))
		if err != nil {
			return nil, err
		}
		dates = append(dates, d)
	}
	return dates, nil
}

func (h *Handler) CurrenciesHandler(w http.ResponseWriter, r *http.Request) {
	currencies, err := h.service.Currencies(r.Context())
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	h.sendSuccessResponse(w, currencies)
}

// LiveRatesHandler serves ?market=USD-CLP for one rate or ?markets=a,b for
// several. ttl is in seconds.
func (h *Handler) LiveRatesHandler(w http.ResponseWriter, r *http.Request) {
	h.metrics.RateRequestsTotal.Inc()

	q := r.URL.Query()
	var ttl time.Duration
	if ttlStr := q.Get("ttl"); ttlStr != "" {
		secs, err := strconv.Atoi(ttlStr)
		if err != nil || secs < 0 {
			h.sendErrorResponse(w, http.StatusBadRequest, "invalid ttl parameter")
			return
		}
		ttl = time.Duration(secs) * time.Second
	}

	ctx := r.Context()
	if single := q.Get("market"); single != "" {
		markets, err := parseMarkets(single)
		if err != nil || len(markets) != 1 {
			h.sendErrorResponse(w, http.StatusBadRequest, "invalid market parameter, use BASE-QUOTE")
			return
		}
		rate, err := h.service.LiveRate(ctx, markets[0], ttl)
		if err != nil {
			h.handleServiceError(w, err)
			return
		}
		h.sendSuccessResponse(w, rate)
		return
	}

	markets, err := parseMarkets(q.Get("markets"))
	if err != nil {
		h.sendErrorResponse(w, http.StatusBadRequest, "missing or invalid parameter: market or markets")
		return
	}
	rates, err := h.service.LiveRates(ctx, markets, ttl)
	h.sendRates(w, rates, err)
}

// HistoricalRatesHandler serves GET ?market=&date= for one rate,
// GET ?markets=&date= or &dates= for batches, and POST with a JSON list of
// market-date or market-timeframe requests.
func (h *Handler) HistoricalRatesHandler(w http.ResponseWriter, r *http.Request) {
	h.metrics.HistoricalRequestsTotal.Inc()

	if r.Method == http.MethodPost {
		h.historicalBatch(w, r)
		return
	}
	if r.Method != http.MethodGet {
		h.sendErrorResponse(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	q := r.URL.Query()
	ctx := r.Context()

	if single := q.Get("market"); single != "" {
		markets, err := parseMarkets(single)
		if err != nil || len(markets) != 1 {
			h.sendErrorResponse(w, http.StatusBadRequest, "invalid market parameter, use BASE-QUOTE")
			return
		}
		date, err := parseDate(q.Get("date"))
		if err != nil || date.IsZero() {
			h.sendErrorResponse(w, http.StatusBadRequest, "invalid date format, use YYYY-MM-DD")
			return
		}
		rate, err := h.service.HistoricalRate(ctx, markets[0], date)
		if err != nil {
			h.handleServiceError(w, err)
			return
		}
		h.sendSuccessResponse(w, rate)
		return
	}

	markets, err := parseMarkets(q.Get("markets"))
	if err != nil {
		h.sendErrorResponse(w, http.StatusBadRequest, "missing or invalid parameter: market or markets")
		return
	}

	switch {
	case q.Get("date") != "":
		date, err := parseDate(q.Get("date"))
		if err != nil {
			h.sendErrorResponse(w, http.StatusBadRequest, "invalid date format, use YYYY-MM-DD")
			return
		}
		rates, err := h.service.HistoricalRatesForDate(ctx, markets, date)
		h.sendRates(w, rates, err)
	case q.Get("dates") != "":
		dates, err := parseDates(q.Get("dates"))
		if err != nil {
			h.sendErrorResponse(w, http.StatusBadRequest, "invalid dates format, use YYYY-MM-DD,YYYY-MM-DD")
			return
		}
		rates, err := h.service.HistoricalRatesForDates(ctx, markets, dates)
		h.sendRates(w, rates, err)
	default:
		h.sendErrorResponse(w, http.StatusBadRequest, "missing required parameter: date or dates")
	}
}

func (h *Handler) historicalBatch(w http.ResponseWriter, r *http.Request) {
	var inputs []historicalInput
	if err := json.NewDecoder(r.Body).Decode(&inputs); err != nil {
		h.sendErrorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(inputs) == 0 {
		h.sendSuccessResponse(w, []model.Rate{})
		return
	}

	ctx := r.Context()
	if inputs[0].Timeframe != nil {
		requests := make([]model.MarketTimeframe, 0, len(inputs))
		for i, in := range inputs {
			if in.Timeframe == nil {
				h.sendErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("item %d: missing timeframe", i))
				return
			}
			start, err := utils.ParseDate(in.Timeframe.Start)
			if err != nil {
				h.sendErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("item %d: invalid start date", i))
				return
			}
			end, err := utils.ParseDate(in.Timeframe.End)
			if err != nil {
				h.sendErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("item %d: invalid end date", i))
				return
			}
			requests = append(requests, model.MarketTimeframe{
				Market:    model.NewMarket(in.Market.Base, in.Market.Quote),
				Timeframe: model.Timeframe{Start: start, End: end},
			})
		}
		rates, err := h.service.HistoricalRatesByTimeframe(ctx, requests)
		h.sendRates(w, rates, err)
		return
	}

	requests := make([]model.MarketDate, 0, len(inputs))
	for i, in := range inputs {
		date, err := utils.ParseDate(in.Date)
		if err != nil || in.Timeframe != nil {
			h.sendErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("item %d: invalid date", i))
			return
		}
		requests = append(requests, model.MarketDate{Market: model.NewMarket(in.Market.Base, in.Market.Quote), Date: date})
	}
	rates, err := h.service.HistoricalRatesByDate(ctx, requests)
	h.sendRates(w, rates, err)
}

func (h *Handler) TimeframeRatesHandler(w http.ResponseWriter, r *http.Request) {
	h.metrics.HistoricalRequestsTotal.Inc()

	q := r.URL.Query()
	markets, err := parseMarkets(q.Get("markets"))
	if err != nil {
		h.sendErrorResponse(w, http.StatusBadRequest, "missing or invalid parameter: markets")
		return
	}

	start, err := utils.ParseDate(q.Get("start"))
	if err != nil {
		h.sendErrorResponse(w, http.StatusBadRequest, "invalid start format, use YYYY-MM-DD")
		return
	}
	end, err := utils.ParseDate(q.Get("end"))
	if err != nil {
		h.sendErrorResponse(w, http.StatusBadRequest, "invalid end format, use YYYY-MM-DD")
		return
	}

	rates, err := h.service.HistoricalRatesForTimeframe(r.Context(), markets, model.Timeframe{Start: start, End: end})
	h.sendRates(w, rates, err)
}

func (h *Handler) ConvertCurrencyHandler(w http.ResponseWriter, r *http.Request) {
	h.metrics.ConversionRequestsTotal.Inc()

	from := model.Currency(strings.ToUpper(r.URL.Query().Get("from")))
	to := model.Currency(strings.ToUpper(r.URL.Query().Get("to")))
	amountStr := r.URL.Query().Get("amount")
	dateStr := r.URL.Query().Get("date")

	if from == "" || to == "" {
		h.sendErrorResponse(w, http.StatusBadRequest, "missing required parameters: from and to")
		return
	}

	amount := 1.0
	if amountStr != "" {
		var err error
		amount, err = strconv.ParseFloat(amountStr, 64)
		if err != nil {
			h.sendErrorResponse(w, http.StatusBadRequest, "invalid amount parameter")
			return
		}
	}

	date, err := parseDate(dateStr)
	if err != nil {
		h.sendErrorResponse(w, http.StatusBadRequest, "invalid date format, use YYYY-MM-DD")
		return
	}

	request := model.ConversionRequest{
		FromCurrency: from,
		ToCurrency:   to,
		Amount:       amount,
		Date:         date,
	}

	result, err := h.service.ConvertCurrency(r.Context(), request)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	h.sendSuccessResponse(w, result)
}

// sendRates answers a batch. Unsupported markets do not fail the request;
// they are listed next to the rates that resolved.
func (h *Handler) sendRates(w http.ResponseWriter, rates []model.Rate, err error) {
	if err != nil && (rates == nil || !errors.Is(err, service.ErrUnsupportedMarket)) {
		h.handleServiceError(w, err)
		return
	}

	response := Response{Success: true, Data: rates}
	for _, m := range service.UnsupportedMarkets(err) {
		response.Unsupported = append(response.Unsupported, m.ID())
	}
	h.writeJSON(w, http.StatusOK, response)
}

func (h *Handler) sendSuccessResponse(w http.ResponseWriter, data interface{}) {
	h.writeJSON(w, http.StatusOK, Response{
		Success: true,
		Data:    data,
	})
}

func (h *Handler) sendErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	h.writeJSON(w, statusCode, Response{
		Success: false,
		Error:   message,
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, statusCode int, response Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.log.Error("Failed to encode response", "error", err)
	}
}

func (h *Handler) handleServiceError(w http.ResponseWriter, err error) {
	statusCode := http.StatusInternalServerError
	errorMessage := "internal server error"

	switch {
	case errors.Is(err, service.ErrInvalidCurrency):
		statusCode = http.StatusBadRequest
		errorMessage = "invalid currency"
	case errors.Is(err, service.ErrDateOutOfRange):
		statusCode = http.StatusBadRequest
		errorMessage = "date is in the future"
	case errors.Is(err, service.ErrInvalidDateRange):
		statusCode = http.StatusBadRequest
		errorMessage = "invalid date range"
	case errors.Is(err, service.ErrInvalidAmount):
		statusCode = http.StatusBadRequest
		errorMessage = "invalid amount"
	case errors.Is(err, service.ErrExternalAPIFailure):
		statusCode = http.StatusBadGateway
		errorMessage = "rate provider failure"
	case errors.Is(err, service.ErrUnsupportedMarket):
		statusCode = http.StatusNotFound
		errorMessage = "unsupported market"
	case errors.Is(err, service.ErrRateNotFound):
		statusCode = http.StatusNotFound
		errorMessage = "exchange rate not found"
	}

	h.log.Error("Service error", "error", err, "status_code", statusCode)
	h.sendErrorResponse(w, statusCode, errorMessage)
}
