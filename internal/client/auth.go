package client

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ryabkov82/crm-writer/internal/exception"
)

// AuthMode selects how the token is attached to requests.
type AuthMode string

const (
	// AuthBearer sends "Authorization: Bearer <token>" (private apps).
	AuthBearer AuthMode = "bearer"
	// AuthQueryKey appends "hapikey=<token>" to the query string (legacy API keys).
	AuthQueryKey AuthMode = "hapikey"
)

const queryKeyParam = "hapikey"

// ParseAuthMode accepts the configured mode name. Empty means AuthBearer.
func ParseAuthMode(s string) (AuthMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "bearer", "token", "private_app":
		return AuthBearer, nil
	case "hapikey", "api_key", "query":
		return AuthQueryKey, nil
	default:
		return "", exception.Configuration(dispatchModule, fmt.Sprintf("unknown auth mode %q", s), nil)
	}
}

// ResolveToken picks the credential to use.
// Priority: environment token > configured token. The second result tells
// whether the environment value was used.
func ResolveToken(envToken, configToken string) (string, bool) {
	if strings.TrimSpace(envToken) != "" {
		return envToken, true
	}
	if strings.TrimSpace(configToken) != "" {
		return configToken, false
	}
	return "", false
}

// authorize attaches the credential to req.
func authorize(req *http.Request, mode AuthMode, token string) {
	switch mode {
	case AuthQueryKey:
		q := req.URL.Query()
		q.Set(queryKeyParam, token)
		req.URL.RawQuery = q.Encode()
	default:
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

// redactURL masks the query key in the URL carried by a transport error.
func redactURL(err error) error {
	var uerr *url.Error
	if !errors.As(err, &uerr) {
		return err
	}
	u, perr := url.Parse(uerr.URL)
	if perr != nil {
		return &url.Error{Op: uerr.Op, URL: "<redacted>", Err: uerr.Err}
	}
	q := u.Query()
	if !q.Has(queryKeyParam) {
		return err
	}
	q.Set(queryKeyParam, "REDACTED")
	u.RawQuery = q.Encode()
	return &url.Error{Op: uerr.Op, URL: u.String(), Err: uerr.Err}
}
