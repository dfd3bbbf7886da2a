// Package api exposes the margin ledger over HTTP and streams committed events over websocket.
//
// All amounts are decimal strings parsed at the market's precision; never float64 for money.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"frizo/margin_ledger/internal/collateral"
	"frizo/margin_ledger/internal/common"
	"frizo/margin_ledger/internal/engine"
	"frizo/margin_ledger/internal/logger"
	"frizo/margin_ledger/internal/metrics"
	"frizo/margin_ledger/internal/oracle"
	"frizo/margin_ledger/internal/version"
)

const requestIDHeader = "X-Request-Id"

// Server holds the HTTP handlers. The price book and vault are the in-process adapters
// the engines were built with; the API feeds them.
type Server struct {
	ledger *engine.Ledger
	book   *oracle.Book
	vault  *collateral.Vault
	hub    *Hub
	log    *logger.Logger
}

// NewServer creates the HTTP surface. hub may be nil when websocket streaming is not needed.
func NewServer(ledger *engine.Ledger, book *oracle.Book, vault *collateral.Vault, hub *Hub, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Default()
	}
	return &Server{
		ledger: ledger,
		book:   book,
		vault:  vault,
		hub:    hub,
		log:    log,
	}
}

// Routes builds the router.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	r.Get("/health", s.Health)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if s.hub != nil {
			r.Get("/ws", s.hub.HandleWS)
		}

		r.Get("/markets", s.ListMarkets)
		r.Post("/markets", s.CreateMarket)
		r.Route("/markets/{marketID}", func(r chi.Router) {
			r.Get("/", s.GetMarket)
			r.Put("/price", s.SetPrice)
			r.Post("/pause", s.PauseMarket)
			r.Post("/resume", s.ResumeMarket)
			r.Post("/funding", s.SettleFunding)
			r.Post("/bad-debt", s.SettleBadDebt)
			r.Get("/liquidatable", s.ListLiquidatable)

			r.Get("/positions", s.ListPositions)
			r.Post("/positions", s.OpenPosition)
			r.Route("/positions/{trader}", func(r chi.Router) {
				r.Get("/", s.GetPosition)
				r.Delete("/", s.ClosePosition)
				r.Get("/risk", s.GetRisk)
				r.Post("/deposit", s.DepositMargin)
				r.Post("/withdraw", s.WithdrawMargin)
				r.Post("/funding", s.PayFunding)
				r.Post("/liquidate", s.LiquidatePosition)
			})
		})

		r.Get("/collateral/{trader}", s.GetCollateral)
		r.Post("/collateral/{trader}/credit", s.CreditCollateral)
	})
	return r
}

// Health handles GET /health.
func (s *Server) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": version.Service,
		"version": version.Short(),
		"markets": len(s.ledger.Markets()),
	})
}

// requestLogger tags every request with an id and logs it once it completes.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := r.Header.Get(requestIDHeader)
		if reqID == "" {
			reqID = common.GenerateRequestID()
		}
		w.Header().Set(requestIDHeader, reqID)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Debug("http request",
			"request_id", reqID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
		)
	})
}
