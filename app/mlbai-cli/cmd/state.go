package cmd

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mylifebyai/mlbai/internal/patreon"
)

var stateSecret string

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Work with signed link-state tokens",
}

var stateInspectCmd = &cobra.Command{
	Use:     "inspect TOKEN",
	Short:   "Verify a state token and print its payload",
	Example: `  mlbai-cli state inspect eyJ1c2VySWQiOi....c2ln`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		secret := stateSecret
		if secret == "" {
			secret = strings.TrimSpace(os.Getenv("PATREON_STATE_SECRET"))
		}
		if secret == "" {
			return errors.New("no state secret: set PATREON_STATE_SECRET or pass --secret")
		}
		codec, err := patreon.NewStateCodec([]byte(secret))
		if err != nil {
			return err
		}
		ttl := 15 * time.Minute
		if raw := os.Getenv("PATREON_STATE_TTL"); raw != "" {
			if ttl, err = time.ParseDuration(raw); err != nil {
				return err
			}
		}
		return printJSON(cmd.OutOrStdout(), inspectState(codec, args[0], ttl, time.Now()))
	},
}

func init() {
	stateInspectCmd.Flags().StringVar(&stateSecret, "secret", "", "state secret (default $PATREON_STATE_SECRET)")
	stateCmd.AddCommand(stateInspectCmd)
}

type stateReport struct {
	Valid      bool       `json:"valid"`
	UserID     string     `json:"userId,omitempty"`
	RedirectTo string     `json:"redirectTo,omitempty"`
	IssuedAt   *time.Time `json:"issuedAt,omitempty"`
	Age        string     `json:"age,omitempty"`
	Expired    bool       `json:"expired"`
}

func inspectState(codec *patreon.StateCodec, token string, ttl time.Duration, now time.Time) stateReport {
	p, ok := codec.Decode(strings.TrimSpace(token))
	if !ok {
		return stateReport{}
	}
	r := stateReport{Valid: true, UserID: p.UserID, RedirectTo: p.RedirectTo}
	if p.IssuedAt == 0 {
		// callbacks reject tokens without iat when a TTL is set
		r.Expired = ttl > 0
		return r
	}
	iat := time.Unix(p.IssuedAt, 0).UTC()
	age := p.Age(now)
	r.IssuedAt = &iat
	r.Age = age.Round(time.Second).String()
	r.Expired = ttl > 0 && age > ttl
	return r
}
