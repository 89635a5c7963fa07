package idp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"credvault/internal/credential"
	"credvault/pkg/logging"
)

// Client talks to the identity provider's authorization and token
// endpoints. It builds authorization-code URLs, exchanges codes, and
// performs tier-scoped refresh grants.
//
// Code exchange goes through golang.org/x/oauth2. The refresh grant is a
// raw form POST because a refresh with an explicit scope parameter (needed
// to target one API surface per exchange) is not expressible through
// oauth2.TokenSource.
type Client struct {
	clientID     string
	clientSecret string
	authorizeURL string
	tokenURL     string
	redirectURI  string

	httpClient *http.Client
	now        func() time.Time
}

// Options configures a Client.
type Options struct {
	ClientID     string
	ClientSecret string
	AuthorizeURL string
	TokenURL     string
	RedirectURI  string

	// HTTPClient overrides the default 30s-timeout client, mainly for tests.
	HTTPClient *http.Client
}

// NewClient creates an IdP client from the given options.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		clientID:     opts.ClientID,
		clientSecret: opts.ClientSecret,
		authorizeURL: opts.AuthorizeURL,
		tokenURL:     opts.TokenURL,
		redirectURI:  opts.RedirectURI,
		httpClient:   httpClient,
		now:          time.Now,
	}
}

func (c *Client) oauthConfig(scopes []string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.clientID,
		ClientSecret: c.clientSecret,
		RedirectURL:  c.redirectURI,
		Scopes:       scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  c.authorizeURL,
			TokenURL: c.tokenURL,
		},
	}
}

// AuthorizationURL assembles the provider authorization URL for the given
// one-time state and scope list.
func (c *Client) AuthorizationURL(state string, scopes []string) string {
	return c.oauthConfig(scopes).AuthCodeURL(state,
		oauth2.SetAuthURLParam("response_mode", "query"))
}

// ExchangeCode exchanges an authorization code for a token set. The scope
// parameter is sent along with the grant so the provider issues tokens for
// the requested API surface.
func (c *Client) ExchangeCode(ctx context.Context, code string, scopes []string) (*credential.TokenSet, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)

	tok, err := c.oauthConfig(scopes).Exchange(ctx, code,
		oauth2.SetAuthURLParam("scope", strings.Join(scopes, " ")))
	if err != nil {
		return nil, fmt.Errorf("code exchange failed: %w", err)
	}

	granted := ""
	if s, ok := tok.Extra("scope").(string); ok {
		granted = s
	}

	logging.Debug("IdP", "Exchanged authorization code (expires %s)", tok.Expiry.Format(time.RFC3339))

	return &credential.TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
		Scope:        granted,
	}, nil
}

// Refresh exchanges a refresh token for a new token set, requesting the
// given scopes. It does not retry; retry policy belongs to the caller.
func (c *Client) Refresh(ctx context.Context, refreshToken string, scopes []string) (*credential.TokenSet, error) {
	data := url.Values{}
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", refreshToken)
	data.Set("client_id", c.clientID)
	data.Set("client_secret", c.clientSecret)
	data.Set("scope", strings.Join(scopes, " "))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("refresh request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read refresh response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		// The body may contain sensitive hints; keep it out of the error.
		logging.Debug("IdP", "Token refresh failed: status=%d body=%s", resp.StatusCode, string(body))
		return nil, fmt.Errorf("token refresh failed with status %d", resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("failed to parse refresh response: %w", err)
	}
	if tr.AccessToken == "" {
		return nil, fmt.Errorf("refresh response contained no access token")
	}

	ts := &credential.TokenSet{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		Scope:        tr.Scope,
	}
	if tr.ExpiresIn > 0 {
		ts.ExpiresAt = c.now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	}

	logging.Debug("IdP", "Refreshed token (expires_in=%d)", tr.ExpiresIn)

	return ts, nil
}

// tokenResponse is the provider's JSON token-endpoint response.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}
