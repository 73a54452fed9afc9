package nitrado

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/woozymasta/nidibot/internal/provider"
	"github.com/woozymasta/nidibot/internal/vars"
)

// DefaultBaseURL is the public Nitrapi endpoint.
const DefaultBaseURL = "https://api.nitrado.net"

// testedAPIVersion is the Nitrapi version prefix the mapping was written against.
// Nitrado changes the suffix with every deployment, so only the prefix is compared.
const testedAPIVersion = "nitrapi-1471"

// maxResponseSize bounds a single API response body.
const maxResponseSize = 4 << 20

// client performs authenticated Nitrapi requests.
type client struct {
	http    *http.Client
	baseURL string
	token   string
}

func newClient(baseURL, token string, timeout time.Duration) *client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if !strings.HasPrefix(token, "Bearer ") {
		token = "Bearer " + token
	}

	return &client{
		http:    &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
	}
}

// do sends a request and decodes the envelope data into out (when out is not nil).
// Transport, auth and 5xx failures wrap ErrProviderUnavailable, 404 wraps ErrServerNotFound.
func (c *client) do(ctx context.Context, method, path string, out any) (*envelope, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", c.token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", vars.UserAgent())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, provider.Unavailable(method+" "+path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, provider.Unavailable(method+" "+path, err)
	}

	log.Trace().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Msg("Nitrapi response received")

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		if resp.StatusCode >= 300 {
			return nil, statusError(method, path, resp.StatusCode, "")
		}
		return nil, provider.Unavailable(method+" "+path, fmt.Errorf("failed to decode response: %w", err))
	}

	if resp.StatusCode >= 300 {
		return &env, statusError(method, path, resp.StatusCode, env.Message)
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return &env, provider.Unavailable(method+" "+path, fmt.Errorf("failed to decode data: %w", err))
		}
	}

	return &env, nil
}

func statusError(method, path string, status int, message string) error {
	detail := fmt.Sprintf("%s %s: status %d", method, path, status)
	if message != "" {
		detail += ": " + message
	}

	switch {
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: %s", provider.ErrServerNotFound, detail)
	case status == http.StatusUnauthorized, status == http.StatusForbidden,
		status == http.StatusTooManyRequests, status >= 500:
		return fmt.Errorf("%w: %s", provider.ErrProviderUnavailable, detail)
	default:
		return fmt.Errorf("nitrado rejected request: %s", detail)
	}
}

// checkVersion warns when the API reports a version other than the tested one.
func (c *client) checkVersion(ctx context.Context) error {
	env, err := c.do(ctx, http.MethodGet, "/version", nil)
	if err != nil {
		return err
	}
	if env.Status != "success" {
		return fmt.Errorf("%w: failed reading Nitrado API version: %s", provider.ErrProviderUnavailable, env.Message)
	}

	if !strings.Contains(env.Message, testedAPIVersion) {
		log.Warn().
			Str("expected", testedAPIVersion).
			Str("actual", env.Message).
			Msg("Nitrado API version was changed")
	}

	return nil
}

func (c *client) services(ctx context.Context) ([]service, error) {
	var data servicesData
	if _, err := c.do(ctx, http.MethodGet, "/services", &data); err != nil {
		return nil, err
	}

	return data.Services, nil
}

func (c *client) gameserver(ctx context.Context, serviceID string) (gameserver, error) {
	var data gameserverData
	if _, err := c.do(ctx, http.MethodGet, "/services/"+serviceID+"/gameservers", &data); err != nil {
		return gameserver{}, err
	}

	return data.Gameserver, nil
}

// action posts a control request and requires status "success".
func (c *client) action(ctx context.Context, serviceID, action string) error {
	env, err := c.do(ctx, http.MethodPost, "/services/"+serviceID+"/gameservers/"+action, nil)
	if err != nil {
		return err
	}
	if env.Status != "success" {
		return fmt.Errorf("nitrado rejected %s of %s: %s", action, serviceID, env.Message)
	}

	return nil
}
