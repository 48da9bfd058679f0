package testutil

import (
	"net/http"

	id "custodia/pkg/domain"
	"custodia/pkg/requestcontext"
)

// AsCaller stamps the request context with an authenticated caller, the way
// the auth middleware does for a valid bearer token.
func AsCaller(req *http.Request, caller id.Identity) *http.Request {
	return req.WithContext(requestcontext.WithCaller(req.Context(), caller))
}
