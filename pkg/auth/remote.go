package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/mrblonde/orders/pkg/metrics"
)

// UserEndpoint is the auth platform route returning the token's user.
const UserEndpoint = "/auth/v1/user"

// RemoteValidator asks the auth platform whether an access token is still
// valid. A revoked or signed-out session fails here even though its JWT would
// still verify locally.
type RemoteValidator struct {
	client *resty.Client
}

func NewRemoteValidator(baseURL, anonKey string, timeout time.Duration) *RemoteValidator {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	if anonKey != "" {
		client.SetHeader("apikey", anonKey)
	}
	return &RemoteValidator{client: client}
}

type remoteUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

func (v *RemoteValidator) Validate(ctx context.Context, accessToken string) (*User, error) {
	var out remoteUser
	resp, err := v.client.R().
		SetContext(ctx).
		SetAuthToken(accessToken).
		SetResult(&out).
		Get(UserEndpoint)
	if err != nil {
		metrics.AdminTokenValidationFailures.Inc()
		return nil, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}

	switch code := resp.StatusCode(); {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		metrics.AdminTokenValidationFailures.Inc()
		return nil, fmt.Errorf("%w: auth platform rejected token (%d)", ErrInvalidToken, code)
	case code != http.StatusOK:
		metrics.AdminTokenValidationFailures.Inc()
		return nil, fmt.Errorf("%w: unexpected status %d", ErrValidationFailed, code)
	}

	if out.ID == "" {
		metrics.AdminTokenValidationFailures.Inc()
		return nil, fmt.Errorf("%w: response without user id", ErrValidationFailed)
	}
	return &User{ID: out.ID, Email: out.Email, Role: out.Role}, nil
}
