package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/trusttoken/contracts-pre22-sub001/gateway/middleware"
	"github.com/trusttoken/contracts-pre22-sub001/native/creditbook"
	"github.com/trusttoken/contracts-pre22-sub001/native/lender"
	"github.com/trusttoken/contracts-pre22-sub001/native/loans"
	"github.com/trusttoken/contracts-pre22-sub001/native/oracle"
	"github.com/trusttoken/contracts-pre22-sub001/native/pool"
	"github.com/trusttoken/contracts-pre22-sub001/native/rates"
	"github.com/trusttoken/contracts-pre22-sub001/native/rating"
	"github.com/trusttoken/contracts-pre22-sub001/state"
)

// ScopeCreditAdmin guards the mutating credit-line maintenance endpoints.
const ScopeCreditAdmin = "credit.admin"

// Node bundles the engines the gateway reads from.
type Node struct {
	Loans  *loans.Engine
	Lender *lender.Engine
	Credit *creditbook.Engine
	Rating *rating.Engine
	Rates  *rates.Adjuster
	Pools  *pool.Set
	State  *state.Manager
	Oracle *oracle.SimpleCreditOracle
}

type Config struct {
	Node          Node
	Authenticator *middleware.Authenticator
	RateLimiter   *middleware.RateLimiter
	Observability *middleware.Observability
	CORS          middleware.CORSConfig
}

// New assembles the gateway's HTTP handler.
func New(cfg Config) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(cfg.CORS))

	obs := cfg.Observability
	if obs != nil {
		r.Use(obs.Middleware("root"))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mountGroup := func(prefix, name string, mount func(chi.Router), scopes ...string) {
		r.Route(prefix, func(sr chi.Router) {
			if cfg.RateLimiter != nil {
				sr.Use(cfg.RateLimiter.Middleware(name))
			}
			if cfg.Authenticator != nil && len(scopes) > 0 {
				sr.Use(cfg.Authenticator.Middleware(scopes...))
			}
			if obs != nil {
				sr.Use(obs.Middleware(name))
			}
			mount(sr)
		})
	}

	loansBridge := &loanRoutes{node: cfg.Node}
	poolsBridge := &poolRoutes{node: cfg.Node}
	creditBridge := &creditRoutes{node: cfg.Node, auth: cfg.Authenticator}

	mountGroup("/v1/loans", "loans", loansBridge.mount)
	mountGroup("/v1/pools", "pools", poolsBridge.mount)
	mountGroup("/v1/credit", "credit", creditBridge.mount)

	if obs != nil {
		r.Handle("/metrics", obs.MetricsHandler())
	}

	return r
}
