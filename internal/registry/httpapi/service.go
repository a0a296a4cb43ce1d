package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/stardag-dev/stardag-registry/internal/app/metrics"
	"github.com/stardag-dev/stardag-registry/internal/app/system"
	"github.com/stardag-dev/stardag-registry/internal/registry/auth"
	"github.com/stardag-dev/stardag-registry/internal/registry/lock"
	"github.com/stardag-dev/stardag-registry/internal/registry/search"
	"github.com/stardag-dev/stardag-registry/internal/registry/store"
	"github.com/stardag-dev/stardag-registry/pkg/logger"
)

// Service exposes the registry's HTTP API and fits into the system
// manager lifecycle.
type Service struct {
	addr    string
	server  *http.Server
	handler http.Handler
	log     *logger.Logger
}

// Deps bundles the wiring NewService needs beyond Config and addr: the
// backing store, the credential validators, and the lock/search services
// the handlers delegate to.
type Deps struct {
	Store    store.Store
	Resolver *auth.Resolver
	OIDC     *auth.OIDCValidator
	Internal *auth.TokenIssuer
	Locks    *lock.Service
	Search   *search.Service
	// DB is used only for the audit sink, when AUDIT_LOG_PATH isn't set.
	DB *sql.DB
}

func NewService(addr string, cfg Config, deps Deps, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("registry-http")
	}

	var sink auditSink
	if path := strings.TrimSpace(os.Getenv("AUDIT_LOG_PATH")); path != "" {
		if s, err := newFileAuditSink(path); err == nil {
			sink = s
			log.Infof("audit log persisting to %s", path)
		} else {
			log.Warnf("audit log file not configured: %v", err)
		}
	} else if deps.DB != nil {
		sink = newPostgresAuditSink(deps.DB)
	}
	audit := newAuditLog(300, sink)

	h := newHandler(cfg, deps.Store, deps.Resolver, deps.OIDC, deps.Internal, deps.Locks, deps.Search, audit)
	router := newRouter(h)

	// Order matters: auth sees the real request path, audit wraps it to
	// capture the principal handlers resolve deep inside, CORS short-
	// circuits preflight OPTIONS before any of that, and metrics wraps
	// everything.
	var handler http.Handler = router
	handler = wrapWithAuth(handler)
	handler = wrapWithAudit(handler, audit)
	handler = wrapWithCORS(handler)
	handler = metrics.InstrumentHandler(handler)

	return &Service{addr: addr, handler: handler, log: log}
}

var _ system.Service = (*Service)(nil)

func (s *Service) Name() string { return "registry-http" }

func (s *Service) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Errorf("http server error: %v", err)
		}
	}()
	return nil
}

func (s *Service) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// wrapWithCORS allows cross-origin requests from the registry dashboard
// and short-circuits preflight requests before auth ever sees them.
func wrapWithCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
