package server

import (
	"net/http"
	"strings"

	"github.com/rs/cors"
)

// corsMaxAge is how long browsers may cache a preflight answer, in seconds.
const corsMaxAge = 600

// corsMiddleware wraps next with CORS handling. With an empty allow-list any
// origin is allowed; otherwise only listed origins get CORS headers and the
// browser blocks the rest. Preflight requests are answered with 204 and never
// reach next.
func corsMiddleware(allowed []string, next http.Handler) http.Handler {
	return newCORS(allowed).Handler(next)
}

// newCORS builds the rs/cors policy for allowed. Trailing slashes in
// configured origins are ignored since browsers never send them.
func newCORS(allowed []string) *cors.Cors {
	origins := make([]string, 0, len(allowed))
	for _, o := range allowed {
		if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
			origins = append(origins, o)
		}
	}
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         corsMaxAge,
	})
}
