package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/Satish-Kalepu/Agents-Simulator/pkg/contracts"
	pkgmw "github.com/Satish-Kalepu/Agents-Simulator/pkg/middleware"
)

// AdminAuth authenticates admin requests through the provider chain and
// stores the resulting Identity in the request context. Every request it
// guards must authenticate; anonymous access is rejected.
type AdminAuth struct {
	chain contracts.AuthProviderChain
}

// NewAdminAuth creates the admin auth middleware.
func NewAdminAuth(chain contracts.AuthProviderChain) *AdminAuth {
	return &AdminAuth{chain: chain}
}

// Handler returns the HTTP middleware.
func (am *AdminAuth) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := am.chain.Authenticate(r.Context(), r)
		if err != nil {
			log.Debug().Err(err).Str("path", r.URL.Path).Msg("Admin authentication failed")
			unauthorized(w, "authentication failed: "+err.Error())
			return
		}
		if identity == nil {
			unauthorized(w, "authentication required: set Authorization: Bearer <token> or X-API-Key")
			return
		}

		next.ServeHTTP(w, r.WithContext(pkgmw.SetIdentity(r.Context(), identity)))
	})
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="agentsim-admin"`)
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
		"code":  "Unauthorized",
	})
}
