package patreon

import "time"

// Provider endpoints. Tests and staging override them through Config.
const (
	DefaultAuthorizeURL = "https://www.patreon.com/oauth2/authorize"
	DefaultTokenURL     = "https://www.patreon.com/api/oauth2/token"
	DefaultIdentityURL  = "https://www.patreon.com/api/oauth2/v2/identity"
)

// DefaultScopes is the fixed scope set requested at link time.
var DefaultScopes = []string{"identity", "identity[email]", "identity.memberships"}

// Config is built once at startup and passed by value; nothing in this
// package reads the environment.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	StateSecret  []byte

	// CampaignID scopes membership lookups. Empty means "first membership".
	CampaignID string

	TesterTierIDs     []string
	PrimaryAdminEmail string

	Scopes       []string
	AuthorizeURL string
	TokenURL     string
	IdentityURL  string

	// StateTTL bounds how old a state token may be at callback. Zero disables the check.
	StateTTL    time.Duration
	HTTPTimeout time.Duration
}

// WithDefaults fills endpoint, scope and timeout defaults.
func (c Config) WithDefaults() Config {
	if c.AuthorizeURL == "" {
		c.AuthorizeURL = DefaultAuthorizeURL
	}
	if c.TokenURL == "" {
		c.TokenURL = DefaultTokenURL
	}
	if c.IdentityURL == "" {
		c.IdentityURL = DefaultIdentityURL
	}
	if len(c.Scopes) == 0 {
		c.Scopes = append([]string(nil), DefaultScopes...)
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 15 * time.Second
	}
	return c
}
