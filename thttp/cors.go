package thttp

import (
	"net/http"

	"github.com/gorilla/handlers"
)

var (
	corsMethods = []string{
		http.MethodGet,
		http.MethodHead,
		http.MethodOptions,
		http.MethodPost,
		http.MethodPut,
		http.MethodPatch,
		http.MethodDelete,
	}
	corsHeaders = []string{
		"Authorization",
		"Cache-Control",
		"Content-Type",
		"If-Modified-Since",
		"Range",
		"X-Requested-With",
		RequestIDHeader,
	}
	corsExposedHeaders = []string{
		"Content-Length",
		"Content-Range",
		RequestIDHeader,
	}
)

// NewCORS returns a middleware answering preflight requests and allowing
// cross-origin requests from the origins. "*" allows any origin.
func NewCORS(origins ...string) func(http.Handler) http.Handler {
	return handlers.CORS(
		handlers.AllowedMethods(corsMethods),
		handlers.AllowedHeaders(corsHeaders),
		handlers.ExposedHeaders(corsExposedHeaders),
		handlers.AllowedOrigins(origins),
	)
}

// CORS allows cross-origin requests from any origin
var CORS = NewCORS("*")
