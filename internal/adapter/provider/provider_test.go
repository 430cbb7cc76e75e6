package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rates-engine/internal/domain/model"
	"rates-engine/pkg/logger"
)

type recordedRequest struct {
	Path  string
	Query url.Values
}

type upstream struct {
	mu       sync.Mutex
	requests []recordedRequest
	server   *httptest.Server
}

// newUpstream serves respond(path, query) as the body of every request.
func newUpstream(t *testing.T, respond func(path string, q url.Values) (int, string)) *upstream {
	t.Helper()
	u := &upstream{}
	u.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.mu.Lock()
		u.requests = append(u.requests, recordedRequest{Path: r.URL.Path, Query: r.URL.Query()})
		u.mu.Unlock()
		status, body := respond(r.URL.Path, r.URL.Query())
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(u.server.Close)
	return u
}

func (u *upstream) config() ClientConfig {
	return ClientConfig{BaseURL: u.server.URL, AccessKey: "secret", Timeout: 2 * time.Second}
}

func (u *upstream) calls() []recordedRequest {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := append([]recordedRequest(nil), u.requests...)
	sort.Slice(out, func(i, j int) bool { return out[i].Path+out[i].Query.Encode() < out[j].Path+out[j].Query.Encode() })
	return out
}

func day(s string) time.Time {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return d
}

func byMarket(rates []model.Rate) map[string]model.Rate {
	out := make(map[string]model.Rate, len(rates))
	for _, r := range rates {
		out[r.Market.ID()+":"+r.Date] = r
	}
	return out
}

func TestCurrencylayer_FetchLive(t *testing.T) {
	up := newUpstream(t, func(path string, q url.Values) (int, string) {
		return http.StatusOK, `{"success":true,"timestamp":1577836800,"source":"USD","quotes":{"USDCLP":752.5}}`
	})
	cl := NewCurrencylayer(up.config(), false, logger.Discard())

	rates, err := cl.FetchLive(context.Background(), []model.Market{
		model.NewMarket("USD", "CLP"),
		model.NewMarket("USD", "XXX"),
	})
	require.NoError(t, err)
	require.Len(t, rates, 2)

	got := byMarket(rates)
	clp := got["USD-CLP:2020-01-01"]
	require.NotNil(t, clp.Value)
	assert.Equal(t, 752.5, *clp.Value)
	assert.Equal(t, CurrencylayerID, clp.Source)
	assert.Equal(t, int64(1577836800), clp.Timestamp)

	missing, ok := got["USD-XXX:2020-01-01"]
	require.True(t, ok)
	assert.Nil(t, missing.Value)

	calls := up.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "/live", calls[0].Path)
	assert.Equal(t, "USD", calls[0].Query.Get("source"))
	assert.Equal(t, "CLP,XXX", calls[0].Query.Get("currencies"))
	assert.Equal(t, "secret", calls[0].Query.Get("access_key"))
}

func TestCurrencylayer_FetchHistorical(t *testing.T) {
	up := newUpstream(t, func(path string, q url.Values) (int, string) {
		return http.StatusOK, `{"success":true,"historical":true,"date":"2020-01-01","timestamp":1577923199,"source":"USD","quotes":{"USDEUR":0.89}}`
	})
	cl := NewCurrencylayer(up.config(), false, logger.Discard())

	rates, err := cl.FetchHistorical(context.Background(), []model.Market{model.NewMarket("USD", "EUR")}, day("2020-01-01"))
	require.NoError(t, err)
	require.Len(t, rates, 1)
	assert.Equal(t, "2020-01-01", rates[0].Date)
	assert.Equal(t, 0.89, *rates[0].Value)

	calls := up.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "/historical", calls[0].Path)
	assert.Equal(t, "2020-01-01", calls[0].Query.Get("date"))
}

func TestCurrencylayer_APIError(t *testing.T) {
	up := newUpstream(t, func(path string, q url.Values) (int, string) {
		return http.StatusOK, `{"success":false,"error":{"code":101,"type":"invalid_access_key","info":"You have not supplied a valid API Access Key."}}`
	})
	cl := NewCurrencylayer(up.config(), false, logger.Discard())

	_, err := cl.FetchLive(context.Background(), []model.Market{model.NewMarket("USD", "CLP")})
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 101, apiErr.Code)
	assert.Equal(t, "invalid_access_key", apiErr.Type)
}

func TestCurrencylayer_HTTPStatusError(t *testing.T) {
	up := newUpstream(t, func(path string, q url.Values) (int, string) {
		return http.StatusUnauthorized, `{}`
	})
	cl := NewCurrencylayer(up.config(), false, logger.Discard())

	_, err := cl.FetchHistorical(context.Background(), []model.Market{model.NewMarket("USD", "CLP")}, day("2020-01-01"))

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
}

func TestCurrencylayer_FetchTimeframe(t *testing.T) {
	t.Run("timeframe endpoint", func(t *testing.T) {
		up := newUpstream(t, func(path string, q url.Values) (int, string) {
			return http.StatusOK, `{"success":true,"timeframe":true,"source":"USD","quotes":{
				"2020-01-01":{"USDCLP":750},
				"2020-01-02":{"USDCLP":751}
			}}`
		})
		cl := NewCurrencylayer(up.config(), true, logger.Discard())

		tf := model.NewTimeframe(day("2020-01-01"), day("2020-01-03"))
		rates, err := cl.FetchTimeframe(context.Background(), []model.Market{model.NewMarket("USD", "CLP")}, tf)
		require.NoError(t, err)
		require.Len(t, rates, 3)

		got := byMarket(rates)
		assert.Equal(t, 750.0, *got["USD-CLP:2020-01-01"].Value)
		assert.Equal(t, 751.0, *got["USD-CLP:2020-01-02"].Value)
		assert.Nil(t, got["USD-CLP:2020-01-03"].Value)

		calls := up.calls()
		require.Len(t, calls, 1)
		assert.Equal(t, "/timeframe", calls[0].Path)
		assert.Equal(t, "2020-01-01", calls[0].Query.Get("start_date"))
		assert.Equal(t, "2020-01-03", calls[0].Query.Get("end_date"))
	})

	t.Run("chunks long ranges", func(t *testing.T) {
		up := newUpstream(t, func(path string, q url.Values) (int, string) {
			return http.StatusOK, `{"success":true,"timeframe":true,"source":"USD","quotes":{}}`
		})
		cl := NewCurrencylayer(up.config(), true, logger.Discard())

		tf := model.NewTimeframe(day("2019-01-01"), day("2020-12-31"))
		_, err := cl.FetchTimeframe(context.Background(), []model.Market{model.NewMarket("USD", "CLP")}, tf)
		require.NoError(t, err)
		assert.Len(t, up.calls(), 3)
	})

	t.Run("per day without timeframe", func(t *testing.T) {
		up := newUpstream(t, func(path string, q url.Values) (int, string) {
			return http.StatusOK, `{"success":true,"historical":true,"source":"USD","quotes":{"USDCLP":750}}`
		})
		cl := NewCurrencylayer(up.config(), false, logger.Discard())

		tf := model.NewTimeframe(day("2020-01-01"), day("2020-01-03"))
		rates, err := cl.FetchTimeframe(context.Background(), []model.Market{model.NewMarket("USD", "CLP")}, tf)
		require.NoError(t, err)
		assert.Len(t, rates, 3)

		calls := up.calls()
		require.Len(t, calls, 3)
		for _, c := range calls {
			assert.Equal(t, "/historical", c.Path)
		}
	})
}

func TestCoinlayer_FetchLive(t *testing.T) {
	t.Run("single quote prices the base in the quote", func(t *testing.T) {
		up := newUpstream(t, func(path string, q url.Values) (int, string) {
			return http.StatusOK, `{"success":true,"timestamp":1577836800,"target":"USD","rates":{"BTC":7200.5}}`
		})
		cl := NewCoinlayer(up.config(), false, logger.Discard())

		rates, err := cl.FetchLive(context.Background(), []model.Market{model.NewMarket("BTC", "USD")})
		require.NoError(t, err)
		require.Len(t, rates, 1)
		assert.Equal(t, model.NewMarket("BTC", "USD"), rates[0].Market)
		assert.Equal(t, 7200.5, *rates[0].Value)

		calls := up.calls()
		require.Len(t, calls, 1)
		assert.Equal(t, "/live", calls[0].Path)
		assert.Equal(t, "USD", calls[0].Query.Get("target"))
		assert.Equal(t, "BTC", calls[0].Query.Get("symbols"))
	})

	t.Run("fiat base is sent as the target and comes back inverted", func(t *testing.T) {
		up := newUpstream(t, func(path string, q url.Values) (int, string) {
			return http.StatusOK, `{"success":true,"timestamp":1577836800,"target":"USD","rates":{"BTC":7200.5,"ETH":130.2}}`
		})
		cl := NewCoinlayer(up.config(), false, logger.Discard())

		rates, err := cl.FetchLive(context.Background(), []model.Market{
			model.NewMarket("USD", "BTC"),
			model.NewMarket("USD", "ETH"),
		})
		require.NoError(t, err)
		require.Len(t, rates, 2)

		got := byMarket(rates)
		assert.Equal(t, 7200.5, *got["BTC-USD:2020-01-01"].Value)
		assert.Equal(t, 130.2, *got["ETH-USD:2020-01-01"].Value)

		calls := up.calls()
		require.Len(t, calls, 1)
		assert.Equal(t, "USD", calls[0].Query.Get("target"))
		assert.Equal(t, "BTC,ETH", calls[0].Query.Get("symbols"))
	})
}

func TestCoinlayer_FetchLive_CryptoBaseWithFiatQuotes(t *testing.T) {
	up := newUpstream(t, func(path string, q url.Values) (int, string) {
		switch q.Get("target") {
		case "USD":
			return http.StatusOK, `{"success":true,"timestamp":1577836800,"target":"USD","rates":{"BTC":7200.5}}`
		case "EUR":
			return http.StatusOK, `{"success":true,"timestamp":1577836800,"target":"EUR","rates":{"BTC":6400.25}}`
		}
		return http.StatusOK, `{"success":false,"error":{"code":105,"type":"invalid_target","info":"target must be fiat"}}`
	})
	cl := NewCoinlayer(up.config(), false, logger.Discard())

	rates, err := cl.FetchLive(context.Background(), []model.Market{
		model.NewMarket("BTC", "USD"),
		model.NewMarket("BTC", "EUR"),
	})
	require.NoError(t, err)
	require.Len(t, rates, 2)

	got := byMarket(rates)
	assert.Equal(t, 7200.5, *got["BTC-USD:2020-01-01"].Value)
	assert.Equal(t, 6400.25, *got["BTC-EUR:2020-01-01"].Value)

	calls := up.calls()
	require.Len(t, calls, 2)
	for _, call := range calls {
		assert.Equal(t, "BTC", call.Query.Get("symbols"))
	}
	assert.ElementsMatch(t, []string{"USD", "EUR"}, []string{calls[0].Query.Get("target"), calls[1].Query.Get("target")})
}

func TestCoinlayer_FetchHistorical(t *testing.T) {
	up := newUpstream(t, func(path string, q url.Values) (int, string) {
		return http.StatusOK, `{"success":true,"historical":true,"date":"2020-01-01","timestamp":1577923199,"target":"USD","rates":{"BTC":7200.5}}`
	})
	cl := NewCoinlayer(up.config(), false, logger.Discard())

	rates, err := cl.FetchHistorical(context.Background(), []model.Market{
		model.NewMarket("BTC", "USD"),
	}, day("2020-01-01"))
	require.NoError(t, err)
	require.Len(t, rates, 1)
	assert.Equal(t, "2020-01-01", rates[0].Date)

	calls := up.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "/2020-01-01", calls[0].Path)
}

func TestCoinlayer_FetchTimeframe(t *testing.T) {
	up := newUpstream(t, func(path string, q url.Values) (int, string) {
		return http.StatusOK, `{"success":true,"timeframe":true,"target":"USD","rates":{
			"2020-01-01":{"BTC":7200.5},
			"2020-01-02":{"BTC":null}
		}}`
	})
	cl := NewCoinlayer(up.config(), true, logger.Discard())

	tf := model.NewTimeframe(day("2020-01-01"), day("2020-01-02"))
	rates, err := cl.FetchTimeframe(context.Background(), []model.Market{model.NewMarket("BTC", "USD")}, tf)
	require.NoError(t, err)
	require.Len(t, rates, 2)

	got := byMarket(rates)
	assert.Equal(t, 7200.5, *got["BTC-USD:2020-01-01"].Value)
	assert.Nil(t, got["BTC-USD:2020-01-02"].Value)
	assert.Equal(t, "/timeframe", up.calls()[0].Path)
}

func TestCoinlayer_APIError(t *testing.T) {
	up := newUpstream(t, func(path string, q url.Values) (int, string) {
		return http.StatusOK, `{"success":false,"error":{"code":104,"type":"usage_limit_reached","info":"Monthly limit reached."}}`
	})
	cl := NewCoinlayer(up.config(), false, logger.Discard())

	_, err := cl.FetchLive(context.Background(), []model.Market{model.NewMarket("BTC", "USD")})

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, CoinlayerID, apiErr.Provider)
	assert.Equal(t, 104, apiErr.Code)
}

func TestStatic(t *testing.T) {
	s := NewStatic("fixture", map[string]float64{"USD-CLP": 750, "JPY-USD": 0.009})

	rates, err := s.FetchHistorical(context.Background(), []model.Market{
		model.NewMarket("USD", "CLP"),
		model.NewMarket("USD", "JPY"),
		model.NewMarket("USD", "XXX"),
	}, day("2020-01-01"))
	require.NoError(t, err)
	require.Len(t, rates, 3)

	assert.Equal(t, 750.0, *rates[0].Value)
	assert.Equal(t, model.NewMarket("JPY", "USD"), rates[1].Market)
	assert.Equal(t, 0.009, *rates[1].Value)
	assert.Nil(t, rates[2].Value)
	assert.Equal(t, "fixture", rates[2].Source)

	tf := model.NewTimeframe(day("2020-01-01"), day("2020-01-05"))
	series, err := s.FetchTimeframe(context.Background(), []model.Market{model.NewMarket("USD", "CLP")}, tf)
	require.NoError(t, err)
	assert.Len(t, series, 5)
}
