package security

import (
	"net/http"
	"strings"
	"unicode"

	"github.com/example/recon-engine/internal/recon"
)

const ActorHeader = "X-Actor"

const maxActorLen = 128

// ValidActor reports whether v is usable as a caller identity: printable,
// without spaces, at most 128 bytes.
func ValidActor(v string) bool {
	if v == "" || len(v) > maxActorLen {
		return false
	}
	return strings.IndexFunc(v, func(r rune) bool {
		return unicode.IsSpace(r) || !unicode.IsPrint(r)
	}) < 0
}

// Actor puts the X-Actor identity into the request context. Requests without
// the header act as the system actor.
func Actor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := strings.TrimSpace(r.Header.Get(ActorHeader))
		if actor == "" {
			next.ServeHTTP(w, r)
			return
		}
		if !ValidActor(actor) {
			WriteJSONErrorMessage(w, r, http.StatusBadRequest, "invalid_actor", "X-Actor must be printable, without spaces, at most 128 bytes")
			return
		}
		next.ServeHTTP(w, r.WithContext(recon.WithActor(r.Context(), actor)))
	})
}
