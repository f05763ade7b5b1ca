package testutil

import (
	"net/http"

	id "bluecarbon/pkg/domain"
	"bluecarbon/pkg/requestcontext"
)

// WithPrincipal places an authenticated account on the request, as the auth
// middleware would.
func WithPrincipal(req *http.Request, accountID id.AccountID, role id.Role) *http.Request {
	return req.WithContext(requestcontext.WithPrincipal(req.Context(), accountID, role))
}

// AsAdmin marks the request as coming from admin account 1.
func AsAdmin(req *http.Request) *http.Request {
	return WithPrincipal(req, 1, id.RoleAdmin)
}
