package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mylifebyai/mlbai/internal/patreon"
)

// Service-level settings that are not part of the provider config.
type PatreonRuntime struct {
	SyncSecret     string
	ResyncInterval time.Duration
	TokenKey       string
	AppBaseURL     string
}

// LoadPatreon reads the environment once. Every missing required key is
// reported in a single error.
func LoadPatreon() (patreon.Config, PatreonRuntime, error) {
	var missing []string
	req := func(key string) string {
		v := strings.TrimSpace(os.Getenv(key))
		if v == "" {
			missing = append(missing, key)
		}
		return v
	}

	cfg := patreon.Config{
		ClientID:          req("PATREON_CLIENT_ID"),
		ClientSecret:      req("PATREON_CLIENT_SECRET"),
		RedirectURI:       req("PATREON_REDIRECT_URI"),
		StateSecret:       []byte(req("PATREON_STATE_SECRET")),
		CampaignID:        strings.TrimSpace(os.Getenv("PATREON_CAMPAIGN_ID")),
		TesterTierIDs:     splitList(os.Getenv("PATREON_TESTER_TIER_IDS")),
		PrimaryAdminEmail: strings.TrimSpace(os.Getenv("PRIMARY_ADMIN_EMAIL")),
	}
	if len(missing) > 0 {
		return patreon.Config{}, PatreonRuntime{}, fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	var err error
	if cfg.StateTTL, err = durationEnv("PATREON_STATE_TTL", 15*time.Minute); err != nil {
		return patreon.Config{}, PatreonRuntime{}, err
	}
	if cfg.HTTPTimeout, err = durationEnv("PATREON_HTTP_TIMEOUT", 15*time.Second); err != nil {
		return patreon.Config{}, PatreonRuntime{}, err
	}

	rt := PatreonRuntime{
		SyncSecret: strings.TrimSpace(os.Getenv("PATREON_SYNC_SECRET")),
		TokenKey:   strings.TrimSpace(os.Getenv("PATREON_TOKEN_KEY")),
		AppBaseURL: strings.TrimRight(strings.TrimSpace(os.Getenv("APP_BASE_URL")), "/"),
	}
	if rt.ResyncInterval, err = durationEnv("PATREON_RESYNC_INTERVAL", 0); err != nil {
		return patreon.Config{}, PatreonRuntime{}, err
	}
	return cfg.WithDefaults(), rt, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("%s: invalid duration %q", key, raw)
	}
	return d, nil
}
