package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"CoffeeFutures/internal/ingestion"
	"CoffeeFutures/internal/observability"
	"CoffeeFutures/internal/query"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

var log = observability.NewLogger("server")

// HTTPServer serves the query API, the command ingest endpoints, and the
// health probes over chi. The high-volume command paths come in over NATS;
// this surface covers admin operations and read models.
type HTTPServer struct {
	server *http.Server
}

// Deps holds the dependencies of the HTTP surface.
type Deps struct {
	QueryService   *query.QueryService
	CommandService *ingestion.CommandService
	HealthChecker  *observability.HealthChecker
	Metrics        *observability.Metrics
}

// commandTypes maps the ingest path segment to the parser's command type.
var commandTypes = map[string]string{
	"publish-price":          "PublishPrice",
	"open-deal":              "OpenDeal",
	"top-up-margin":          "TopUpMargin",
	"mark-to-market":         "MarkToMarket",
	"margin-call":            "MarginCall",
	"settle-cash":            "SettleCash",
	"settle-physical":        "SettlePhysical",
	"cancel-deal":            "CancelDeal",
	"close-deal":             "CloseDeal",
	"init-cft-mint":          "InitCftMint",
	"create-market":          "CreateMarket",
	"set-paused":             "SetPaused",
	"rotate-oracle-propose":  "ProposeRotateOracle",
	"rotate-oracle-activate": "ActivateRotateOracle",
}

func NewHTTPServer(addr string, deps *Deps) *HTTPServer {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", deps.HealthChecker.LivenessHandler)
	r.Get("/readyz", deps.HealthChecker.ReadinessHandler)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/markets/{market}", getMarket(deps))
		r.Get("/markets/{market}/deals", listDeals(deps))
		r.Get("/markets/{market}/prices", listPrices(deps))
		r.Get("/deals/{deal}", getDeal(deps))
		r.Get("/deals/{deal}/settlements", listSettlements(deps))

		r.Post("/commands/{type}", submitCommand(deps))
	})

	return &HTTPServer{
		server: &http.Server{
			Addr:    addr,
			Handler: r,
		},
	}
}

// Start runs the HTTP server until ctx is cancelled.
func (s *HTTPServer) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(shutCtx)
	}()

	log.Info().Str("addr", s.server.Addr).Msg("HTTP server listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func observe(deps *Deps, endpoint string, status int, start time.Time) {
	if deps.Metrics == nil {
		return
	}
	deps.Metrics.QueryRequests.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
	deps.Metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}

func getMarket(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp, err := deps.QueryService.GetMarket(r.Context(), chi.URLParam(r, "market"))
		if err != nil {
			observe(deps, "get_market", http.StatusInternalServerError, start)
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if resp == nil {
			observe(deps, "get_market", http.StatusNotFound, start)
			writeError(w, http.StatusNotFound, "market not found")
			return
		}
		observe(deps, "get_market", http.StatusOK, start)
		writeJSON(w, http.StatusOK, resp)
	}
}

func getDeal(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp, err := deps.QueryService.GetDeal(r.Context(), chi.URLParam(r, "deal"))
		if err != nil {
			observe(deps, "get_deal", http.StatusInternalServerError, start)
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if resp == nil {
			observe(deps, "get_deal", http.StatusNotFound, start)
			writeError(w, http.StatusNotFound, "deal not found")
			return
		}
		observe(deps, "get_deal", http.StatusOK, start)
		writeJSON(w, http.StatusOK, resp)
	}
}

func listDeals(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp, err := deps.QueryService.ListDeals(r.Context(), chi.URLParam(r, "market"))
		if err != nil {
			observe(deps, "list_deals", http.StatusInternalServerError, start)
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		observe(deps, "list_deals", http.StatusOK, start)
		writeJSON(w, http.StatusOK, map[string]interface{}{"deals": resp})
	}
}

func listPrices(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		resp, err := deps.QueryService.ListPrices(r.Context(), chi.URLParam(r, "market"), limit)
		if err != nil {
			observe(deps, "list_prices", http.StatusInternalServerError, start)
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		observe(deps, "list_prices", http.StatusOK, start)
		writeJSON(w, http.StatusOK, map[string]interface{}{"prices": resp})
	}
}

func listSettlements(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp, err := deps.QueryService.ListSettlements(r.Context(), chi.URLParam(r, "deal"))
		if err != nil {
			observe(deps, "list_settlements", http.StatusInternalServerError, start)
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		observe(deps, "list_settlements", http.StatusOK, start)
		writeJSON(w, http.StatusOK, map[string]interface{}{"settlements": resp})
	}
}

func submitCommand(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		commandType, ok := commandTypes[chi.URLParam(r, "type")]
		if !ok {
			observe(deps, "submit_command", http.StatusNotFound, start)
			writeError(w, http.StatusNotFound, "unknown command type")
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			observe(deps, "submit_command", http.StatusBadRequest, start)
			writeError(w, http.StatusBadRequest, "read body: "+err.Error())
			return
		}

		cmd, err := ingestion.ParseRawCommand(ingestion.RawCommand{Data: body}, commandType)
		if err != nil {
			observe(deps, "submit_command", http.StatusBadRequest, start)
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		if err := deps.CommandService.Submit(r.Context(), cmd); err != nil {
			observe(deps, "submit_command", http.StatusServiceUnavailable, start)
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}

		observe(deps, "submit_command", http.StatusAccepted, start)
		writeJSON(w, http.StatusAccepted, map[string]string{
			"status":          "accepted",
			"idempotency_key": cmd.IdempotencyKey(),
		})
	}
}
