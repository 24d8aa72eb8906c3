package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"perpscope/internal/cache"
	"perpscope/internal/model"
	"perpscope/internal/sched"
	"perpscope/internal/syncmgr"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// setCORS sets CORS headers for REST endpoints.
func setCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

// API bundles the engine surfaces the gateway exposes.
type API struct {
	Hub        *Hub
	Managers   map[string]*syncmgr.Manager
	Schedulers map[string]*sched.Scheduler
	Store      *cache.Store

	// TriggerRefresh starts an asynchronous scoped indicator refresh
	// for one provider (empty provider means all).
	TriggerRefresh func(provider string, scope sched.Scope)
}

// RegisterRoutes registers all HTTP routes on the provided mux.
func (a *API) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[gateway] ws upgrade: %v", err)
			return
		}
		a.Hub.HandleWS(conn)
	})

	mux.HandleFunc("/api/tickers", func(w http.ResponseWriter, r *http.Request) {
		setCORS(w)
		out := make(map[string]map[string]model.Instrument, len(a.Managers))
		for name, mgr := range a.Managers {
			out[name] = mgr.Snapshot().Instruments
		}
		writeJSON(w, out)
	})

	mux.HandleFunc("/api/indicators", func(w http.ResponseWriter, r *http.Request) {
		setCORS(w)
		out := make(map[string]map[string]model.IndicatorRecord, len(a.Schedulers))
		for name, sc := range a.Schedulers {
			out[name] = sc.Records()
		}
		writeJSON(w, out)
	})

	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		setCORS(w)
		type providerStatus struct {
			Status   model.StatusInfo `json:"status"`
			Progress string           `json:"progress"`
		}
		out := make(map[string]providerStatus, len(a.Managers))
		for name, mgr := range a.Managers {
			ps := providerStatus{Status: mgr.Status()}
			if sc, ok := a.Schedulers[name]; ok {
				ps.Progress = sc.Progress()
			}
			out[name] = ps
		}
		writeJSON(w, out)
	})

	mux.HandleFunc("/api/refresh", func(w http.ResponseWriter, r *http.Request) {
		setCORS(w)
		if r.Method == http.MethodOptions {
			return
		}
		if r.Method != http.MethodPost {
			http.Error(w, "POST required", http.StatusMethodNotAllowed)
			return
		}
		scope := sched.Scope(r.URL.Query().Get("scope"))
		switch scope {
		case sched.ScopeTop, sched.ScopeTier2, sched.ScopeTier3, sched.ScopeAll:
		case "":
			scope = sched.ScopeAll
		default:
			http.Error(w, "invalid scope", http.StatusBadRequest)
			return
		}
		if a.TriggerRefresh != nil {
			a.TriggerRefresh(r.URL.Query().Get("provider"), scope)
		}
		w.WriteHeader(http.StatusAccepted)
	})

	mux.HandleFunc("/api/favorites", func(w http.ResponseWriter, r *http.Request) {
		setCORS(w)
		switch r.Method {
		case http.MethodOptions:
		case http.MethodGet:
			favs, err := a.Store.LoadFavorites(r.Context())
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			if favs == nil {
				favs = []string{}
			}
			writeJSON(w, favs)
		case http.MethodPut:
			var ids []string
			if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&ids); err != nil {
				http.Error(w, "invalid body", http.StatusBadRequest)
				return
			}
			if err := a.Store.SaveFavorites(r.Context(), ids); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			http.Error(w, "GET or PUT", http.StatusMethodNotAllowed)
		}
	})

	// Layout and filter preferences are opaque blobs: stored verbatim,
	// validated only as JSON.
	mux.HandleFunc("/api/layout", a.blobHandler(a.Store.LoadLayout, a.Store.SaveLayout))
	mux.HandleFunc("/api/filters", a.blobHandler(a.Store.LoadFilters, a.Store.SaveFilters))

	mux.HandleFunc("/api/logos", func(w http.ResponseWriter, r *http.Request) {
		setCORS(w)
		logos, err := a.Store.LoadLogos(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if logos == nil {
			logos = map[string]string{}
		}
		writeJSON(w, logos)
	})

	// Cap ranks arrive from the UI layer's metadata source and feed the
	// indicator-priority ordering.
	mux.HandleFunc("/api/capranks", func(w http.ResponseWriter, r *http.Request) {
		setCORS(w)
		switch r.Method {
		case http.MethodOptions:
		case http.MethodPut:
			var ranks map[string]int
			if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&ranks); err != nil {
				http.Error(w, "invalid body", http.StatusBadRequest)
				return
			}
			if err := a.Store.SaveCapRanks(r.Context(), ranks); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			http.Error(w, "PUT required", http.StatusMethodNotAllowed)
		}
	})
}

// blobHandler serves a GET/PUT pair over one opaque JSON preference.
func (a *API) blobHandler(
	load func(context.Context) (json.RawMessage, error),
	save func(context.Context, json.RawMessage) error,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		setCORS(w)
		switch r.Method {
		case http.MethodOptions:
		case http.MethodGet:
			blob, err := load(r.Context())
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			if blob == nil {
				blob = json.RawMessage(`{}`)
			}
			w.Header().Set("Content-Type", "application/json")
			w.Write(blob)
		case http.MethodPut:
			body, err := io.ReadAll(io.LimitReader(r.Body, 1<<18))
			if err != nil || !json.Valid(body) {
				http.Error(w, "invalid body", http.StatusBadRequest)
				return
			}
			if err := save(r.Context(), body); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			http.Error(w, "GET or PUT", http.StatusMethodNotAllowed)
		}
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
