package hyperliquid

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perpscope/internal/model"
)

const metaFixture = `[
	{"universe":[{"name":"BTC"},{"name":"ETH"},{"name":"GONE"}]},
	[
		{"markPx":"64500.5","prevDayPx":"63000","dayNtlVlm":"9000000000","funding":"0.0000125","openInterest":"12345.6"},
		{"markPx":"3013.4","prevDayPx":"3050","dayNtlVlm":"5000000000","funding":"-0.00002","openInterest":"98765.4"},
		{"markPx":"0","prevDayPx":"1","dayNtlVlm":"0","funding":"0","openInterest":"0"}
	]
]`

const candleFixture = `[
	{"t":1700003600000,"o":"100.5","h":"102","l":"100","c":"101.5","v":"20"},
	{"t":1700000000000,"o":"100","h":"101","l":"99","c":"100.5","v":"10"}
]`

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL, "")
}

func TestFetchAll_AlignsUniverseWithContexts(t *testing.T) {
	var gotBody []byte
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/info", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		gotBody, _ = io.ReadAll(r.Body)
		w.Write([]byte(metaFixture))
	})

	insts, err := c.FetchAll(context.Background())
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"metaAndAssetCtxs"}`, string(gotBody))

	// The zero-price coin is dropped.
	require.Len(t, insts, 2)

	btc := insts[0]
	assert.Equal(t, "hyperliquid:BTC", btc.ID)
	assert.Equal(t, "BTC", btc.Symbol)
	assert.Equal(t, 64500.5, btc.Price)
	assert.Equal(t, 63000.0, btc.PrevPrice24h)
	assert.InDelta(t, (64500.5-63000)/63000*100, btc.Change24h, 1e-9)
	assert.Equal(t, 9e9, btc.QuoteVolume)
	assert.Equal(t, 0.0000125, btc.FundingRate)
	assert.Equal(t, 12345.6, btc.OpenInterest)
	assert.NotEmpty(t, btc.Raw)
}

func TestFetchAll_RejectsMalformedShape(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"universe":[]}]`))
	})
	_, err := c.FetchAll(context.Background())
	assert.Error(t, err)
}

func TestCandles_SortsOldestFirst(t *testing.T) {
	var gotReq struct {
		Type string    `json:"type"`
		Req  candleReq `json:"req"`
	}
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.Write([]byte(candleFixture))
	})

	candles, err := c.Candles(context.Background(), "hyperliquid:BTC", model.Interval1h, 24)
	require.NoError(t, err)

	assert.Equal(t, "candleSnapshot", gotReq.Type)
	assert.Equal(t, "BTC", gotReq.Req.Coin)
	assert.Equal(t, "1h", gotReq.Req.Interval)
	// The limit is expressed as a time range ending now.
	span := gotReq.Req.EndTime - gotReq.Req.StartTime
	assert.Equal(t, int64(24*time.Hour/time.Millisecond), span)

	require.Len(t, candles, 2)
	assert.True(t, candles[0].OpenTime.Before(candles[1].OpenTime))
	assert.Equal(t, 100.5, candles[0].Close)
	assert.Equal(t, 101.5, candles[1].Close)
}

func TestCandles_EmptyPayloadIsError(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	})
	_, err := c.Candles(context.Background(), "hyperliquid:BTC", model.Interval1d, 30)
	assert.Error(t, err)
}

func TestStreamSpec_AllMids(t *testing.T) {
	c := New("", "")
	spec := c.StreamSpec()

	assert.Equal(t, DefaultStreamURL, spec.URL)
	assert.True(t, c.StreamsAll())
	assert.Equal(t, 50*time.Second, spec.HeartbeatEvery)
	assert.JSONEq(t, `{"method":"ping"}`, string(spec.HeartbeatFrame()))

	// One subscribe frame regardless of the id set.
	frames := spec.SubscribeFrames([]string{"hyperliquid:BTC", "hyperliquid:ETH"})
	require.Len(t, frames, 1)
	assert.JSONEq(t, `{"method":"subscribe","subscription":{"type":"allMids"}}`, string(frames[0]))
}

func TestParseFrame(t *testing.T) {
	updates := parseFrame([]byte(`{"channel":"allMids","data":{"mids":{"BTC":"64500.5","ETH":"3013.4","BAD":"nope","ZERO":"0"}}}`))
	require.Len(t, updates, 2)

	byID := make(map[string]float64)
	for _, u := range updates {
		byID[u.ID] = u.Price
	}
	assert.Equal(t, 64500.5, byID["hyperliquid:BTC"])
	assert.Equal(t, 3013.4, byID["hyperliquid:ETH"])

	assert.Nil(t, parseFrame([]byte(`{"channel":"pong"}`)))
	assert.Nil(t, parseFrame([]byte(`garbage`)))
}
