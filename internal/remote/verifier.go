// Package remote implements the HTTP client for the backend PIN verification
// endpoint. It is consumed only by the hybrid unlock path, when no local hash
// exists for a profile yet.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnreachable is returned for transport-level failures and timeouts. The
// caller must not count these toward lockout: the PIN was never evaluated.
var ErrUnreachable = errors.New("pin verification endpoint unreachable")

// Verification is the outcome of a remote PIN check.
type Verification struct {
	Success      bool
	SessionToken string
	Message      string
}

// Verifier is the interface the lock core consumes.
type Verifier interface {
	Verify(ctx context.Context, identifier, pin, businessProfileID string) (*Verification, error)
}

// Client is an HTTP Verifier against the backend auth API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a verifier client. timeout bounds each Verify call unless
// the caller's context is stricter.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

type verifyRequest struct {
	Identifier        string `json:"identifier"`
	Pin               string `json:"pin"`
	BusinessProfileID string `json:"business_profile_id,omitempty"`
}

type verifyResponse struct {
	Success      bool   `json:"success"`
	SessionToken string `json:"session_token,omitempty"`
	Message      string `json:"message,omitempty"`
}

// Verify checks a PIN against the backend. A non-2xx status or an undecodable
// body is a transport failure (ErrUnreachable); an explicit success=false is a
// definitive "wrong PIN" answer, not an error.
func (c *Client) Verify(ctx context.Context, identifier, pin, businessProfileID string) (*Verification, error) {
	endpoint, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing verifier base URL: %w", err)
	}
	endpoint.Path = path.Join(endpoint.Path, "/v1/pin/verify")

	body, err := json.Marshal(verifyRequest{
		Identifier:        identifier,
		Pin:               pin,
		BusinessProfileID: businessProfileID,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding verify request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating verify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	// 401 carries a well-formed "wrong pin" body; anything else non-2xx is a
	// service problem.
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusUnauthorized {
		return nil, fmt.Errorf("%w: unexpected status %d", ErrUnreachable, resp.StatusCode)
	}

	var decoded verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", ErrUnreachable, err)
	}

	return &Verification{
		Success:      decoded.Success,
		SessionToken: decoded.SessionToken,
		Message:      decoded.Message,
	}, nil
}

// SessionExpiry extracts the exp claim from a session token without verifying
// the signature. The client only schedules around it; the backend remains the
// authority on token validity.
func SessionExpiry(token string) (*time.Time, error) {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return nil, fmt.Errorf("parsing session token: %w", err)
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil, fmt.Errorf("session token has no expiry")
	}
	return &exp.Time, nil
}
