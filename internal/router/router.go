package router

import (
	"net/http"
	"time"

	_ "tnr-records/docs"
	mem "tnr-records/internal/adapters/storage/memory"
	"tnr-records/internal/domain/audit"
	"tnr-records/internal/domain/entities"
	"tnr-records/internal/domain/links"
	"tnr-records/internal/domain/locks"
	"tnr-records/internal/domain/merges"
	"tnr-records/internal/domain/ownership"
	"tnr-records/internal/domain/scoring"
	"tnr-records/internal/middleware"
	"tnr-records/internal/platform/logger"
	"tnr-records/internal/platform/tracing"
	"tnr-records/internal/ports/auth"
	"tnr-records/internal/ports/store"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"
)

type Options struct {
	AuthVerifier auth.AuthVerifier // puede ser nil (modo dev)

	// Opcional: si no viene, in-memory.
	Store store.Store

	Logger     logger.Logger
	LockTTL    time.Duration
	EditPolicy locks.Policy

	// Opcional: si no viene, scoring.DefaultWeights().
	Weights *scoring.Weights
}

// Services son los servicios de dominio armados sobre un mismo store. main
// los necesita además del handler (reaper de locks, feed de candidatos).
type Services struct {
	Store     store.Store
	Audit     *audit.Service
	Locks     *locks.Service
	Entities  *entities.Service
	Ownership *ownership.Service
	Merges    *merges.Service
}

func NewServices(opts Options) *Services {
	st := opts.Store
	if st == nil {
		st = mem.NewStore()
	}
	log := opts.Logger
	if log == nil {
		log = logger.NewNop()
	}
	w := scoring.DefaultWeights()
	if opts.Weights != nil {
		w = *opts.Weights
	}

	auditSvc := audit.NewService(st)
	lockSvc := locks.NewService(st, locks.Options{TTL: opts.LockTTL, Logger: log})
	linker := links.NewLinker()

	return &Services{
		Store:     st,
		Audit:     auditSvc,
		Locks:     lockSvc,
		Entities:  entities.NewService(st, auditSvc, lockSvc, entities.Options{Policy: opts.EditPolicy, Logger: log}),
		Ownership: ownership.NewService(st, auditSvc, lockSvc, linker, ownership.Options{Policy: opts.EditPolicy, Logger: log}),
		Merges:    merges.NewService(st, auditSvc, lockSvc, linker, scoring.NewScorer(w), merges.Options{Logger: log}),
	}
}

func NewRouter(opts Options) http.Handler {
	return NewHandler(NewServices(opts), opts)
}

func NewHandler(svcs *Services, opts Options) http.Handler {
	log := opts.Logger
	if log == nil {
		log = logger.NewNop()
	}

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Recover(log))
	r.Use(tracing.Middleware)
	r.Use(middleware.AuthContext(opts.AuthVerifier))
	r.Use(middleware.RequestLog(log))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))

	// Rutas por módulo
	entities.RegisterRoutes(r, svcs.Entities, svcs.Ownership)
	locks.RegisterRoutes(r, svcs.Locks)
	audit.RegisterRoutes(r, svcs.Audit)
	merges.RegisterRoutes(r, svcs.Merges)

	return r
}
