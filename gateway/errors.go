package gateway

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError is a gateway call that reached the server and came back non-2xx.
// It keeps the HTTP status so UI layers can react; 401 in particular must
// stay distinguishable for the session layer.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("gateway: HTTP %d", e.Status)
	}
	return fmt.Sprintf("gateway: HTTP %d: %s", e.Status, e.Body)
}

// IsAuthError reports whether err is an HTTP 401 from the gateway.
func IsAuthError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized
}
