package tushare

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, handler func(req request) string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var req request
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		assert.Equal(t, "tok", req.Token)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(handler(req)))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestStockBasic(t *testing.T) {
	srv := newTestServer(t, func(req request) string {
		assert.Equal(t, "stock_basic", req.APIName)
		assert.Equal(t, "L", req.Params["list_status"])
		return `{"code":0,"msg":"","data":{"fields":["ts_code","symbol","name","exchange","list_status","list_date","delist_date"],
			"items":[["600000.SH","600000","浦发银行","SSE","L","19991110",null],
			         ["000001.SZ","000001","平安银行","SZSE","L","19910403",null]]}}`
	})

	stocks, err := NewClient(srv.URL, "tok", "").StockBasic(context.Background(), "L")
	require.NoError(t, err)
	require.Len(t, stocks, 2)
	assert.Equal(t, "000001", stocks[0].Code)
	assert.Equal(t, "平安银行", stocks[0].Name)
	assert.Equal(t, "SZSE", stocks[0].Exchange)
	assert.Equal(t, time.Date(1991, 4, 3, 0, 0, 0, 0, time.UTC), stocks[0].ListDate)
	assert.True(t, stocks[0].DelistDate.IsZero())
}

func TestDaily_SortsAndConvertsVolume(t *testing.T) {
	srv := newTestServer(t, func(req request) string {
		assert.Equal(t, "daily", req.APIName)
		assert.Equal(t, "600000.SH", req.Params["ts_code"])
		assert.Equal(t, "20160104", req.Params["start_date"])
		assert.NotContains(t, req.Params, "end_date")
		return `{"code":0,"data":{"fields":["trade_date","open","high","low","close","vol"],
			"items":[["20160105",10.1,10.3,10.0,10.2,1500.5],["20160104",10.0,10.2,9.9,10.1,1000]]}}`
	})

	bars, err := NewClient(srv.URL, "tok", "").Daily(context.Background(), "600000.SH",
		time.Date(2016, 1, 4, 0, 0, 0, 0, time.UTC), time.Time{})
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, 4, bars[0].Date.Day())
	assert.Equal(t, 100000.0, bars[0].Volume)
	assert.Equal(t, 10.2, bars[1].Close)
}

func TestDaily_PagesBackwardsPastRowCap(t *testing.T) {
	var ends []string
	srv := newTestServer(t, func(req request) string {
		assert.Equal(t, "20160101", req.Params["start_date"])
		ends = append(ends, req.Params["end_date"])
		fields := `"fields":["trade_date","open","high","low","close","vol"]`
		switch req.Params["end_date"] {
		case "20160131":
			return `{"code":0,"data":{` + fields + `,"items":[["20160108",4,4,4,4,1],["20160107",3,3,3,3,1]]}}`
		case "20160106":
			return `{"code":0,"data":{` + fields + `,"items":[["20160105",2,2,2,2,1],["20160104",1,1,1,1,1]]}}`
		case "20160103":
			return `{"code":0,"data":{` + fields + `,"items":[]}}`
		}
		return `{"code":1,"msg":"unexpected end_date"}`
	})

	c := NewClient(srv.URL, "tok", "")
	c.PageLimit = 2
	bars, err := c.Daily(context.Background(), "600000.SH",
		time.Date(2016, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2016, 1, 31, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, []string{"20160131", "20160106", "20160103"}, ends)
	require.Len(t, bars, 4)
	for i, b := range bars {
		assert.Equal(t, 4+i, b.Date.Day())
		assert.Equal(t, float64(i+1), b.Close)
	}
}

func TestDaily_ShortPageStopsPaging(t *testing.T) {
	calls := 0
	srv := newTestServer(t, func(request) string {
		calls++
		return `{"code":0,"data":{"fields":["trade_date","open","high","low","close","vol"],
			"items":[["20160105",2,2,2,2,1]]}}`
	})
	c := NewClient(srv.URL, "tok", "")
	c.PageLimit = 2
	bars, err := c.Daily(context.Background(), "600000.SH", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, bars, 1)
	assert.Equal(t, 1, calls)
}

func TestQuery_APIError(t *testing.T) {
	srv := newTestServer(t, func(request) string {
		return `{"code":40101,"msg":"token invalid","data":null}`
	})
	_, err := NewClient(srv.URL, "tok", "").StockBasic(context.Background(), "")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, int64(40101), apiErr.Code)
	assert.Contains(t, err.Error(), "token invalid")
}

func TestQuery_HTTPStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()
	_, err := NewClient(srv.URL, "tok", "").StockBasic(context.Background(), "")
	assert.ErrorContains(t, err, "status 502")
}
