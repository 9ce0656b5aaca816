package tracker

import (
	"net/http"

	terrors "github.com/nfugallo/terna/internal/errors"
)

// APIKeyAuth implements Authenticator with a Linear personal API key. Linear
// expects the key verbatim in the Authorization header, without a scheme.
type APIKeyAuth struct {
	Key string
}

func (a *APIKeyAuth) Apply(req *http.Request) error {
	if a.Key == "" {
		return &terrors.APIError{
			Service:    service,
			StatusCode: http.StatusUnauthorized,
			Message:    "LINEAR_API_KEY is not configured",
			Err:        terrors.ErrUnauthorized,
		}
	}
	req.Header.Set("Authorization", a.Key)
	return nil
}
