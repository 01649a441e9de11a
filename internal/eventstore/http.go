package eventstore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// StatusError reports an unexpected HTTP status from a management endpoint.
type StatusError struct {
	Op         string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d %s", e.Op, e.StatusCode, http.StatusText(e.StatusCode))
}

// HTTPManager lists persistent subscriptions and projections through the
// EventStoreDB management API.
type HTTPManager struct {
	base     *url.URL
	client   *http.Client
	username string
	password string
}

// NewHTTPManager creates a manager for the server at baseURL.
func NewHTTPManager(baseURL, username, password string, timeout time.Duration) (*HTTPManager, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse management url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("management url %q: scheme must be http or https", baseURL)
	}
	return &HTTPManager{
		base:     u,
		client:   &http.Client{Timeout: timeout},
		username: username,
		password: password,
	}, nil
}

// ListSubscriptions implements SubscriptionManager. A stream without
// subscriptions yields an empty list.
func (m *HTTPManager) ListSubscriptions(ctx context.Context, name string) ([]SubscriptionInfo, error) {
	var subs []SubscriptionInfo
	found, err := m.getJSON(ctx, "list subscriptions", "/subscriptions/"+url.PathEscape(name), &subs)
	if err != nil {
		return nil, err
	}
	if !found || subs == nil {
		return []SubscriptionInfo{}, nil
	}

	// Older servers ignore the stream filter.
	filtered := subs[:0]
	for _, s := range subs {
		if s.Stream == "" || s.Stream == name {
			if s.Stream == "" {
				s.Stream = name
			}
			filtered = append(filtered, s)
		}
	}
	return filtered, nil
}

// ListContinuous implements ProjectionManager.
func (m *HTTPManager) ListContinuous(ctx context.Context) ([]ProjectionInfo, error) {
	var body struct {
		Projections []ProjectionInfo `json:"projections"`
	}
	if _, err := m.getJSON(ctx, "list projections", "/projections/continuous", &body); err != nil {
		return nil, err
	}
	if body.Projections == nil {
		return []ProjectionInfo{}, nil
	}
	return body.Projections, nil
}

// Query implements ProjectionManager.
func (m *HTTPManager) Query(ctx context.Context, name string) (string, error) {
	resp, err := m.get(ctx, "/projection/"+url.PathEscape(name)+"/query")
	if err != nil {
		return "", fmt.Errorf("query %s: %w", name, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return "", fmt.Errorf("query %s: %w", name, ErrProjectionNotFound)
	default:
		return "", &StatusError{Op: "query " + name, StatusCode: resp.StatusCode}
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("query %s: read body: %w", name, err)
	}
	return string(b), nil
}

// getJSON decodes a JSON response into out. A 404 returns found=false.
func (m *HTTPManager) getJSON(ctx context.Context, op, path string, out any) (bool, error) {
	resp, err := m.get(ctx, path)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return false, &StatusError{Op: op, StatusCode: resp.StatusCode}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, fmt.Errorf("%s: decode response: %w", op, err)
	}
	return true, nil
}

func (m *HTTPManager) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.base.String()+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if m.username != "" {
		req.SetBasicAuth(m.username, m.password)
	}
	return m.client.Do(req)
}
