package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"agents-eval/internal/apiserver/auth"
)

// newTokenCmd 签发 API 访问令牌，密钥取自 JWT_SECRET
func newTokenCmd(c *cli) *cobra.Command {
	var (
		subject string
		role    string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an access token for the eval-server API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := c.loadConfig()
			authCfg := auth.DefaultConfig()
			authCfg.JWTSecret = cfg.Auth.JWTSecret
			if cfg.Auth.Issuer != "" {
				authCfg.Issuer = cfg.Auth.Issuer
			}
			if ttl > 0 {
				authCfg.AccessTokenTTL = ttl
			}
			token, err := auth.GenerateAccessToken(authCfg, subject, role)
			if err != nil {
				return err
			}
			fmt.Fprintln(c.out, token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "evalctl", "token subject")
	cmd.Flags().StringVar(&role, "role", "admin", "token role")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default 24h)")
	return cmd
}
