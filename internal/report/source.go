// Package report fetches result tables from the report-generation API.
// This layer is deliberately thin: no retry, no caching beyond the access
// token. Failures surface immediately and abort the current firing.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"reportbot/pkg/logx"
)

// Source is the upstream data dependency of a firing.
type Source interface {
	Fetch(ctx context.Context, reportID string) (*Table, error)
}

// Config points at the report API.
type Config struct {
	BaseURL   string
	TokenURL  string
	AppID     string
	AppSecret string
	Timeout   time.Duration
}

// HTTPSource queries the report API with a cached bearer token.
type HTTPSource struct {
	cfg  Config
	log  logx.Logger
	http *http.Client

	mu      sync.Mutex
	token   string
	expires time.Time
}

func NewHTTPSource(cfg Config, log logx.Logger) (*HTTPSource, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("report source: base url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &HTTPSource{
		cfg:  cfg,
		log:  log,
		http: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func (s *HTTPSource) Fetch(ctx context.Context, reportID string) (*Table, error) {
	tok, err := s.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	u, err := url.Parse(s.cfg.BaseURL)
	if err != nil {
		return nil, &FetchError{Report: reportID, Err: err}
	}
	q := u.Query()
	q.Set("report", reportID)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, &FetchError{Report: reportID, Err: err}
	}
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, &FetchError{Report: reportID, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		// Token may have been revoked server-side; drop the cache so the next
		// firing re-authenticates.
		s.mu.Lock()
		s.token, s.expires = "", time.Time{}
		s.mu.Unlock()
		return nil, &AuthError{Err: fmt.Errorf("report query rejected: %s", resp.Status)}
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &FetchError{Report: reportID, Err: fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(body)))}
	}

	var t Table
	if err := json.NewDecoder(resp.Body).Decode(&t); err != nil {
		return nil, &FetchError{Report: reportID, Err: fmt.Errorf("decode: %w", err)}
	}
	s.log.Debug("report fetched",
		logx.String("report", reportID),
		logx.Int("rows", len(t.Rows)),
		logx.Int("cols", len(t.Columns)))
	return &t, nil
}

// tokenSlack is subtracted from the advertised expiry so a token is refreshed
// before it actually lapses mid-firing.
const tokenSlack = 60 * time.Second

func (s *HTTPSource) accessToken(ctx context.Context) (string, error) {
	if strings.TrimSpace(s.cfg.TokenURL) == "" {
		return "", nil // unauthenticated source
	}

	s.mu.Lock()
	if s.token != "" && time.Now().Before(s.expires) {
		tok := s.token
		s.mu.Unlock()
		return tok, nil
	}
	s.mu.Unlock()

	body, _ := json.Marshal(map[string]string{
		"app_id":     s.cfg.AppID,
		"app_secret": s.cfg.AppSecret,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.TokenURL, strings.NewReader(string(body)))
	if err != nil {
		return "", &AuthError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return "", &AuthError{Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", &AuthError{Err: fmt.Errorf("token endpoint: %s", resp.Status)}
	}

	var tr struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"` // seconds
	}
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", &AuthError{Err: fmt.Errorf("token decode: %w", err)}
	}
	if strings.TrimSpace(tr.AccessToken) == "" {
		return "", &AuthError{Err: fmt.Errorf("token endpoint returned empty token")}
	}

	exp := time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	if tr.ExpiresIn > 0 {
		exp = exp.Add(-tokenSlack)
	}

	s.mu.Lock()
	s.token, s.expires = tr.AccessToken, exp
	s.mu.Unlock()
	s.log.Debug("access token refreshed", logx.Time("expires", exp))
	return tr.AccessToken, nil
}
