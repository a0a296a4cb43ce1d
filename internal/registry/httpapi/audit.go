package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/stardag-dev/stardag-registry/internal/registry/auth"
)

// auditEntry records one authenticated request, for the admin audit
// endpoint and (optionally) a durable sink.
type auditEntry struct {
	Time          time.Time `json:"time"`
	Kind          string    `json:"kind"`
	UserID        string    `json:"user_id,omitempty"`
	EnvironmentID string    `json:"environment_id,omitempty"`
	Path          string    `json:"path"`
	Method        string    `json:"method"`
	Status        int       `json:"status"`
	RemoteAddr    string    `json:"remote_addr,omitempty"`
}

type auditLog struct {
	mu      sync.Mutex
	entries []auditEntry
	max     int
	sink    auditSink
}

type auditSink interface {
	Write(entry auditEntry) error
}

func newAuditLog(max int, sink auditSink) *auditLog {
	if max <= 0 {
		max = 300
	}
	return &auditLog{max: max, sink: sink}
}

func (l *auditLog) add(entry auditEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
	if len(l.entries) > l.max {
		l.entries = l.entries[len(l.entries)-l.max:]
	}
	if l.sink != nil {
		_ = l.sink.Write(entry)
	}
}

func (l *auditLog) listLimit(limit int) []auditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	if limit <= 0 || limit > l.max {
		limit = l.max
	}
	if len(l.entries) <= limit {
		out := make([]auditEntry, len(l.entries))
		copy(out, l.entries)
		return out
	}
	tail := l.entries[len(l.entries)-limit:]
	out := make([]auditEntry, len(tail))
	copy(out, tail)
	return out
}

// wrapWithAudit records every request's outcome once it completes,
// including the principal the request authenticated as, whichever auth
// helper inside the handler ended up resolving it.
func wrapWithAudit(next http.Handler, log *auditLog) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		box := &auth.Principal{}
		r = r.WithContext(withPrincipalBox(r.Context(), box))

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		log.add(auditEntry{
			Time:          time.Now().UTC(),
			Kind:          string(box.Kind),
			UserID:        box.UserID,
			EnvironmentID: box.EnvironmentID,
			Path:          r.URL.Path,
			Method:        r.Method,
			Status:        rec.status,
			RemoteAddr:    r.RemoteAddr,
		})
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// fileAuditSink appends audit entries as JSONL.
type fileAuditSink struct {
	mu   sync.Mutex
	file *os.File
}

func newFileAuditSink(path string) (*fileAuditSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, err
	}
	return &fileAuditSink{file: f}, nil
}

func (s *fileAuditSink) Write(entry auditEntry) error {
	b, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.file.Write(append(b, '\n'))
	return err
}

// postgresAuditSink writes audit entries to the registry_audit_log table.
type postgresAuditSink struct {
	db *sql.DB
}

func newPostgresAuditSink(db *sql.DB) auditSink {
	if db == nil {
		return nil
	}
	return &postgresAuditSink{db: db}
}

func (s *postgresAuditSink) Write(entry auditEntry) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO registry_audit_log
			(occurred_at, kind, user_id, environment_id, path, method, status, remote_addr)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8)
	`, entry.Time, entry.Kind, entry.UserID, entry.EnvironmentID, entry.Path, entry.Method, entry.Status, entry.RemoteAddr)
	return err
}

func (h *handler) adminAudit(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	writeJSON(w, http.StatusOK, h.audit.listLimit(limit))
}
