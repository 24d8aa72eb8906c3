package asterdex

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perpscope/internal/model"
)

const tickerFixture = `[
	{"symbol":"BTCUSDT","priceChangePercent":"2.5","quoteVolume":"9000000000","openPrice":"63000","lastPrice":"64575.10"},
	{"symbol":"ETHUSDT","priceChangePercent":"-1.2","quoteVolume":"5000000000","openPrice":"3050","lastPrice":"3013.40"},
	{"symbol":"DELISTEDUSDT","priceChangePercent":"0","quoteVolume":"0","openPrice":"0","lastPrice":"0"},
	{"symbol":"BTCEUR","priceChangePercent":"0","quoteVolume":"1","openPrice":"1","lastPrice":"1"}
]`

const premiumFixture = `[
	{"symbol":"BTCUSDT","lastFundingRate":"0.0001"},
	{"symbol":"ETHUSDT","lastFundingRate":"-0.0002"}
]`

const klinesFixture = `[
	[1700000000000,"100.0","101.0","99.0","100.5","10",1700003599999,"1005.0"],
	[1700003600000,"100.5","102.0","100.0","101.5","20",1700007199999,"0"]
]`

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL, "")
}

func TestFetchAll_NormalizesTickerRows(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ticker/24hr":
			w.Write([]byte(tickerFixture))
		case "/premiumIndex":
			w.Write([]byte(premiumFixture))
		default:
			http.NotFound(w, r)
		}
	})

	insts, err := c.FetchAll(context.Background())
	require.NoError(t, err)

	// Zero-price row dropped; the EUR pair fails the quote filter.
	require.Len(t, insts, 2)

	byID := make(map[string]model.Instrument)
	for _, inst := range insts {
		byID[inst.ID] = inst
	}

	btc := byID["asterdex:BTCUSDT"]
	assert.Equal(t, "asterdex", btc.Provider)
	assert.Equal(t, "BTC", btc.Symbol)
	assert.Equal(t, 64575.10, btc.Price)
	assert.Equal(t, 2.5, btc.Change24h)
	assert.Equal(t, 63000.0, btc.PrevPrice24h)
	assert.Equal(t, 0.0001, btc.FundingRate)
	assert.NotEmpty(t, btc.Raw)

	eth := byID["asterdex:ETHUSDT"]
	assert.Equal(t, -0.0002, eth.FundingRate)
}

func TestFetchAll_FundingFailureIsBestEffort(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ticker/24hr":
			w.Write([]byte(tickerFixture))
		default:
			http.Error(w, "boom", http.StatusInternalServerError)
		}
	})

	insts, err := c.FetchAll(context.Background())
	require.NoError(t, err)
	require.Len(t, insts, 2)
	assert.Zero(t, insts[0].FundingRate)
}

func TestCandles_ParsesKlineRows(t *testing.T) {
	var gotQuery string
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/klines", r.URL.Path)
		gotQuery = r.URL.RawQuery
		w.Write([]byte(klinesFixture))
	})

	candles, err := c.Candles(context.Background(), "asterdex:BTCUSDT", model.Interval1h, 2)
	require.NoError(t, err)
	assert.Contains(t, gotQuery, "symbol=BTCUSDT")
	assert.Contains(t, gotQuery, "interval=1h")
	assert.Contains(t, gotQuery, "limit=2")

	require.Len(t, candles, 2)
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), candles[0].OpenTime)
	assert.Equal(t, 100.5, candles[0].Close)
	assert.Equal(t, 1005.0, candles[0].Volume)

	// Zero quote volume falls back to base volume * close.
	assert.Equal(t, 20*101.5, candles[1].Volume)
}

func TestCandles_EmptyPayloadIsError(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	})
	_, err := c.Candles(context.Background(), "asterdex:BTCUSDT", model.Interval1d, 30)
	assert.Error(t, err)
}

func TestSubscribeFrames_ChunksAndLowercases(t *testing.T) {
	ids := make([]string, 0, subscribeChunk+1)
	for i := 0; i < subscribeChunk+1; i++ {
		ids = append(ids, scopedID("SYM"+string(rune('A'+i%26))+"USDT"))
	}

	frames := subscribeFrames(ids)
	require.Len(t, frames, 2)

	var first, second subscribeMsg
	require.NoError(t, json.Unmarshal(frames[0], &first))
	require.NoError(t, json.Unmarshal(frames[1], &second))

	assert.Equal(t, "SUBSCRIBE", first.Method)
	assert.Len(t, first.Params, subscribeChunk)
	assert.Len(t, second.Params, 1)
	assert.Equal(t, 1, first.ID)
	assert.Equal(t, 2, second.ID)
	assert.Equal(t, "symausdt@miniTicker", first.Params[0])
}

func TestParseFrame(t *testing.T) {
	tests := []struct {
		name string
		msg  string
		want int
	}{
		{"mini ticker", `{"stream":"btcusdt@miniTicker","data":{"s":"BTCUSDT","c":"64500.5"}}`, 1},
		{"subscription ack", `{"result":null,"id":1}`, 0},
		{"other stream", `{"stream":"btcusdt@depth","data":{"s":"BTCUSDT","c":"1"}}`, 0},
		{"bad price", `{"stream":"btcusdt@miniTicker","data":{"s":"BTCUSDT","c":"zero"}}`, 0},
		{"garbage", `not json`, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseFrame([]byte(tt.msg))
			require.Len(t, got, tt.want)
			if tt.want == 1 {
				assert.Equal(t, "asterdex:BTCUSDT", got[0].ID)
				assert.Equal(t, 64500.5, got[0].Price)
			}
		})
	}
}

func TestStreamSpec(t *testing.T) {
	c := New("", "")
	spec := c.StreamSpec()
	assert.Equal(t, DefaultStreamURL, spec.URL)
	assert.Nil(t, spec.HeartbeatFrame)
	assert.Equal(t, 3*time.Minute, spec.HeartbeatEvery)
	assert.False(t, c.StreamsAll())
}

func TestLogos_DerivesCDNURLs(t *testing.T) {
	c := New("", "")
	logos := c.Logos([]model.Instrument{
		{Symbol: "BTC"}, {Symbol: "Sol"}, {Symbol: ""},
	})
	require.Len(t, logos, 2)
	assert.Equal(t, "https://cdn.asterdex.com/icons/btc.png", logos["BTC"])
	assert.Equal(t, "https://cdn.asterdex.com/icons/sol.png", logos["Sol"])
}
