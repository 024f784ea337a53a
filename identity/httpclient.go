package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultTimeout     = 10 * time.Second
	defaultMaxAttempts = 3
	maxResponseBytes   = 1 << 20
)

// EndpointConfig describes one provider's OAuth endpoints.
type EndpointConfig struct {
	TokenURL     string
	ProfileURL   string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Timeout      time.Duration
	MaxAttempts  int
}

// ProfileDecoder turns a provider's userinfo response body into a Profile.
type ProfileDecoder func(body []byte) (*Profile, error)

// EndpointClient is a Client over plain HTTP: code for token at TokenURL,
// token for profile at ProfileURL. Transient failures (network errors and
// 5xx responses) are retried with a short linear backoff; 4xx responses are
// terminal.
type EndpointClient struct {
	config EndpointConfig
	decode ProfileDecoder
	client *http.Client
}

// NewEndpointClient validates cfg and returns a ready client.
func NewEndpointClient(cfg EndpointConfig, decode ProfileDecoder) (*EndpointClient, error) {
	if cfg.TokenURL == "" || cfg.ProfileURL == "" {
		return nil, errors.New("token and profile URLs are required")
	}
	if cfg.ClientID == "" {
		return nil, errors.New("client id is required")
	}
	if decode == nil {
		return nil, errors.New("profile decoder is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}

	return &EndpointClient{
		config: cfg,
		decode: decode,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// ExchangeCode implements Client.
func (c *EndpointClient) ExchangeCode(ctx context.Context, code string) (*Profile, error) {
	accessToken, err := c.fetchToken(ctx, code)
	if err != nil {
		return nil, err
	}

	body, err := c.fetchProfile(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	return c.decode(body)
}

func (c *EndpointClient) fetchToken(ctx context.Context, code string) (string, error) {
	form := url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"client_id":    {c.config.ClientID},
		"redirect_uri": {c.config.RedirectURL},
	}
	if c.config.ClientSecret != "" {
		form.Set("client_secret", c.config.ClientSecret)
	}

	body, err := c.do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.TokenURL, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	})
	if err != nil {
		return "", err
	}

	var payload struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if payload.AccessToken == "" {
		return "", errors.New("token response missing access_token")
	}
	return payload.AccessToken, nil
}

func (c *EndpointClient) fetchProfile(ctx context.Context, accessToken string) ([]byte, error) {
	return c.do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.ProfileURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+accessToken)
		return req, nil
	})
}

// do runs newRequest up to MaxAttempts times, treating network errors and
// 5xx responses as retryable.
func (c *EndpointClient) do(ctx context.Context, newRequest func() (*http.Request, error)) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < c.config.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * 200 * time.Millisecond):
			}
		}

		req, err := newRequest()
		if err != nil {
			return nil, err
		}

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}

		switch {
		case resp.StatusCode >= 500:
			lastErr = fmt.Errorf("provider returned %d", resp.StatusCode)
		case resp.StatusCode >= 400:
			return nil, fmt.Errorf("provider returned %d", resp.StatusCode)
		default:
			return body, nil
		}
	}
	return nil, lastErr
}

// DecodeOIDCProfile decodes a standard OpenID Connect userinfo response.
// Providers with bespoke payload shapes supply their own decoder.
func DecodeOIDCProfile(body []byte) (*Profile, error) {
	var payload struct {
		Sub      string `json:"sub"`
		Email    string `json:"email"`
		Name     string `json:"name"`
		Nickname string `json:"nickname"`
		Picture  string `json:"picture"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode userinfo response: %w", err)
	}

	return &Profile{
		ProviderID: payload.Sub,
		Email:      payload.Email,
		Name:       payload.Name,
		Nickname:   payload.Nickname,
		AvatarURL:  payload.Picture,
	}, nil
}
