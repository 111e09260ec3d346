package patreon

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

	"golang.org/x/oauth2"
)

const maxIdentityBody = 2 << 20

// Tokens is the result of either grant.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
}

// Client talks to Patreon's OAuth and identity endpoints. It performs no
// retries; callers decide what a failure means.
type Client struct {
	oauth       *oauth2.Config
	identityURL string
	httpClient  *http.Client
}

func NewClient(cfg Config, httpClient *http.Client) *Client {
	cfg = cfg.WithDefaults()
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.HTTPTimeout}
	}
	return &Client{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthorizeURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		identityURL: cfg.IdentityURL,
		httpClient:  httpClient,
	}
}

// AuthCodeURL builds the provider authorize URL carrying state.
func (c *Client) AuthCodeURL(state string) string {
	return c.oauth.AuthCodeURL(state)
}

func (c *Client) ExchangeCode(ctx context.Context, code string) (*Tokens, error) {
	tok, err := c.oauth.Exchange(c.withHTTPClient(ctx), code)
	if err != nil {
		return nil, tokenError(GrantAuthorizationCode, err)
	}
	return toTokens(GrantAuthorizationCode, tok, "")
}

// RefreshAccessToken runs the refresh-token grant. When the provider does not
// rotate the refresh token, the one passed in is returned.
func (c *Client) RefreshAccessToken(ctx context.Context, refreshToken string) (*Tokens, error) {
	if refreshToken == "" {
		return nil, &TokenExchangeError{Grant: GrantRefreshToken, Code: "invalid_grant", Description: "missing refresh token"}
	}
	src := c.oauth.TokenSource(c.withHTTPClient(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, tokenError(GrantRefreshToken, err)
	}
	return toTokens(GrantRefreshToken, tok, refreshToken)
}

// FetchMembership loads identity and memberships and projects them onto a
// Snapshot. campaignID selects the membership record when present.
func (c *Client) FetchMembership(ctx context.Context, accessToken, campaignID string) (*Snapshot, error) {
	u, err := url.Parse(c.identityURL)
	if err != nil {
		return nil, fmt.Errorf("patreon identity url: %w", err)
	}
	q := u.Query()
	q.Set("include", "memberships,memberships.currently_entitled_tiers,memberships.campaign")
	q.Set("fields[user]", "email,full_name")
	q.Set("fields[member]", "patron_status,currently_entitled_amount_cents,last_charge_status")
	q.Set("fields[tier]", "title")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("patreon identity request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxIdentityBody))
	if err != nil {
		return nil, fmt.Errorf("patreon identity read: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &MembershipFetchError{StatusCode: resp.StatusCode, Message: providerMessage(body, resp.StatusCode)}
	}

	doc, err := parseIdentity(body)
	if err != nil {
		return nil, fmt.Errorf("patreon identity decode: %w", err)
	}
	return projectSnapshot(doc, campaignID), nil
}

func (c *Client) withHTTPClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

func toTokens(grant string, tok *oauth2.Token, fallbackRefresh string) (*Tokens, error) {
	if tok == nil || tok.AccessToken == "" {
		return nil, &TokenExchangeError{Grant: grant, Description: "token response missing access token"}
	}
	refresh := tok.RefreshToken
	if refresh == "" {
		refresh = fallbackRefresh
	}
	if refresh == "" {
		return nil, &TokenExchangeError{Grant: grant, Description: "token response missing refresh token"}
	}
	out := &Tokens{AccessToken: tok.AccessToken, RefreshToken: refresh}
	if !tok.Expiry.IsZero() {
		exp := tok.Expiry.UTC()
		out.ExpiresAt = &exp
	}
	return out, nil
}

// tokenError converts oauth2 failures. Anything that is not a provider
// response (DNS, TLS, timeouts) stays a plain error so callers treat it as transient.
func tokenError(grant string, err error) error {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return fmt.Errorf("patreon %s request: %w", grant, err)
	}
	te := &TokenExchangeError{
		Grant:       grant,
		Code:        re.ErrorCode,
		Description: re.ErrorDescription,
		Err:         err,
	}
	if re.Response != nil {
		te.StatusCode = re.Response.StatusCode
	}
	if te.Code == "" && te.Description == "" {
		var body struct {
			Error            string `json:"error"`
			ErrorDescription string `json:"error_description"`
		}
		if json.Unmarshal(re.Body, &body) == nil {
			te.Code, te.Description = body.Error, body.ErrorDescription
		}
	}
	return te
}

// providerMessage digs a message out of the provider's error shapes:
// {"error": "..."}, {"detail": "..."} or JSON:API {"errors": [{"detail"|"title"}]}.
func providerMessage(body []byte, status int) string {
	var shape struct {
		Error  json.RawMessage `json:"error"`
		Detail string          `json:"detail"`
		Errors []struct {
			Detail   string `json:"detail"`
			Title    string `json:"title"`
			CodeName string `json:"code_name"`
		} `json:"errors"`
	}
	if json.Unmarshal(body, &shape) == nil {
		var s string
		if json.Unmarshal(shape.Error, &s) == nil && strings.TrimSpace(s) != "" {
			return s
		}
		if shape.Detail != "" {
			return shape.Detail
		}
		for _, e := range shape.Errors {
			switch {
			case e.Detail != "":
				return e.Detail
			case e.Title != "":
				return e.Title
			case e.CodeName != "":
				return e.CodeName
			}
		}
	}
	return fmt.Sprintf("Patreon membership fetch failed (%d)", status)
}
