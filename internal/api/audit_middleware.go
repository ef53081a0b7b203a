package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/example/recon-engine/internal/recon"
	"github.com/example/recon-engine/internal/security"
)

// statusWriter records what the handler sent.
type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.bytes += int64(n)
	return n, err
}

// AuditMiddleware appends one chain entry per mutating request. Reads are
// not audited.
func AuditMiddleware(a Auditor) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead {
				next.ServeHTTP(w, r)
				return
			}

			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(sw, r)

			// Rejected requests are audited too; status tells them apart.
			a.Append(fmt.Sprintf("cid=%s actor=%s method=%s path=%s status=%d dur_ms=%d",
				security.CorrelationIDFromContext(r.Context()),
				recon.ActorFromContext(r.Context()),
				r.Method, r.URL.Path, sw.status,
				time.Since(start).Milliseconds()))
		})
	}
}
