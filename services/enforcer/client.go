package enforcer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"ispbss/pkg/middleware"
)

var errNoControlPlane = errors.New("control plane url not configured")

type licenseResponse struct {
	LicenseToken string `json:"license_token"`
}

// pull fetches the tenant's current signed token from the control plane.
func (s *Service) pull(ctx context.Context) (string, error) {
	if s.controlPlaneURL == "" {
		return "", errNoControlPlane
	}

	ctx, cancel := context.WithTimeout(ctx, s.requestTimeout)
	defer cancel()

	endpoint := s.controlPlaneURL + "/v1/tenants/" + url.PathEscape(s.tenantID) + "/license"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set(middleware.HeaderInstanceAPIKey, s.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("pull license: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("pull license: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("pull license: control plane responded %d", resp.StatusCode)
	}

	var out licenseResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("pull license: decode: %w", err)
	}
	if out.LicenseToken == "" {
		return "", errors.New("pull license: empty token")
	}
	return out.LicenseToken, nil
}
