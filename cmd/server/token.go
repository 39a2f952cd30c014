package main

import (
	"fmt"

	"github.com/spf13/cobra"

	jwttoken "ttkn/internal/jwt_token"
	"ttkn/internal/platform/config"
	"ttkn/pkg/domain"
)

const flagAccount = "account"

// newTokenCmd mints a bearer token for an account. The owner uses it to call
// the privileged mint endpoint.
func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for an account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, err := config.NewViper(cmd.Flags())
			if err != nil {
				return err
			}
			account, err := domain.ParseAccount(v.GetString(flagAccount))
			if err != nil {
				return fmt.Errorf("invalid --%s: %w", flagAccount, err)
			}
			jwtCfg := config.LoadJWT(v)
			if jwtCfg.SigningKey == "" {
				return fmt.Errorf("--%s is required", config.FlagJWTSigningKey)
			}

			svc := jwttoken.NewJWTService(jwtCfg.SigningKey, jwtCfg.Issuer, jwtCfg.Audience)
			token, err := svc.GenerateAccessToken(account, jwtCfg.TTL)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().String(config.FlagConfig, "", "Path to a config file (yaml, json or toml)")
	cmd.Flags().String(flagAccount, "", "Account the token is issued to")
	config.RegisterJWTFlags(cmd.Flags())
	return cmd
}
