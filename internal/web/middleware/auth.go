package middleware

import (
	"net/http"

	"github.com/JonMunkholm/fieldsync/internal/core"
	"github.com/JonMunkholm/fieldsync/internal/logging"
)

// ErrorResponder writes err to the client.
type ErrorResponder func(w http.ResponseWriter, r *http.Request, err error)

// Authenticate resolves the Authorization header ("Bearer <key>" or the bare
// key) to a principal. Requests without a usable credential are answered
// with core.ErrUnauthorized.
//
// On success the principal is stored with core.ContextWithPrincipal and the
// credential id is added to the request's log fields.
func Authenticate(auth *core.Authenticator, onError ErrorResponder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, err := auth.Authenticate(r.Context(), r.Header.Get("Authorization"))
			if err != nil {
				onError(w, r, err)
				return
			}

			ctx := core.ContextWithPrincipal(r.Context(), principal)
			ctx = logging.ContextWith(ctx, "credential_id", principal.CredentialID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
