package mid

import (
	"context"
	"net/http"

	"github.com/ledgerkit/node/foundation/web"
)

// Methods served by the node API.
const corsMethods = "GET, POST, DELETE, OPTIONS"

// Cors sets the Cross-Origin Resource Sharing headers for browser viewers of
// the node. An origin of "*" allows every caller, any other value is only
// echoed back to a request coming from that origin.
func Cors(origin string) web.Middleware {

	// This is the actual middleware function to be executed.
	m := func(handler web.Handler) web.Handler {

		// Create the handler that will be attached in the middleware chain.
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			if origin == "*" || r.Header.Get("Origin") == origin {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", corsMethods)
				w.Header().Set("Access-Control-Allow-Headers", "Origin, Accept, Content-Type, Content-Length, Accept-Encoding")
				w.Header().Set("Access-Control-Max-Age", "86400")
			}
			w.Header().Add("Vary", "Origin")

			// Call the next handler.
			return handler(ctx, w, r)
		}

		return h
	}

	return m
}
