package validation

import (
	"net/url"
	"strings"

	apperrors "neuroface-id/internal/errors"
)

// EndpointValidator checks the analysis service URL before it is dialed.
// The endpoint is posted to as-is, so it must be a bare http(s) URL with a
// path and nothing a client could smuggle credentials or parameters in.
type EndpointValidator struct {
	hosts map[string]bool
}

// NewEndpointValidator restricts endpoints to hosts; no hosts allows any
func NewEndpointValidator(hosts ...string) *EndpointValidator {
	v := &EndpointValidator{hosts: make(map[string]bool, len(hosts))}
	for _, h := range hosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			v.hosts[h] = true
		}
	}
	return v
}

// ParseHostList splits a comma separated ANALYZE_ALLOWED_HOSTS value
func ParseHostList(value string) []string {
	var hosts []string
	for _, h := range strings.Split(value, ",") {
		if h = strings.TrimSpace(h); h != "" {
			hosts = append(hosts, h)
		}
	}
	return hosts
}

// Validate returns a validation AppError describing the first problem found
func (v *EndpointValidator) Validate(rawURL string) error {
	if strings.TrimSpace(rawURL) == "" {
		return apperrors.NewValidationError("Endpoint cannot be empty", nil)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return apperrors.NewValidationError("Invalid endpoint format", err)
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return apperrors.NewValidationError("Endpoint scheme must be http or https", nil)
	}
	if u.Hostname() == "" {
		return apperrors.NewValidationError("Endpoint must have a host", nil)
	}
	if u.User != nil {
		return apperrors.NewValidationError("Endpoint must not carry credentials", nil)
	}
	if u.RawQuery != "" || u.ForceQuery {
		return apperrors.NewValidationError("Endpoint must not have a query", nil)
	}
	if u.Fragment != "" || strings.Contains(rawURL, "#") {
		return apperrors.NewValidationError("Endpoint must not have a fragment", nil)
	}
	if strings.Trim(u.Path, "/") == "" {
		return apperrors.NewValidationError("Endpoint must include a path", nil)
	}
	if len(v.hosts) > 0 && !v.hosts[strings.ToLower(u.Hostname())] {
		return apperrors.NewValidationError("Endpoint host not allowed", nil)
	}
	return nil
}
