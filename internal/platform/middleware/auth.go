package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	id "custodia/pkg/domain"
	"custodia/pkg/requestcontext"
)

// RequireCaller authenticates the calling identity from a Bearer token whose
// subject claim is the caller's base58 ledger address. The settlement
// services treat this identity as the signer of every leg the caller
// authorizes; admin checks happen in the services against each config
// record, not here.
func RequireCaller(signingKey []byte, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, ok := callerFromRequest(r, signingKey, logger)
			if !ok {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"unauthorized","message":"missing or invalid bearer token"}`))
				return
			}
			next.ServeHTTP(w, r.WithContext(requestcontext.WithCaller(r.Context(), caller)))
		})
	}
}

func callerFromRequest(r *http.Request, signingKey []byte, logger *slog.Logger) (id.Identity, bool) {
	header := r.Header.Get("Authorization")
	raw, found := strings.CutPrefix(header, "Bearer ")
	if !found || raw == "" {
		return id.Identity{}, false
	}

	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return signingKey, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		logger.WarnContext(r.Context(), "rejected bearer token", "error", err)
		return id.Identity{}, false
	}

	subject, err := token.Claims.GetSubject()
	if err != nil {
		return id.Identity{}, false
	}
	caller, err := id.ParseIdentity(subject)
	if err != nil {
		logger.WarnContext(r.Context(), "token subject is not a ledger identity", "error", err)
		return id.Identity{}, false
	}
	return caller, true
}

// CallerToken mints a token for the given identity. Used by tests and the
// local development seeder; production tokens come from the platform's
// identity service.
func CallerToken(signingKey []byte, caller id.Identity) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": caller.String(),
	})
	return token.SignedString(signingKey)
}
