package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"clausemark/api/internal/auth"
	"clausemark/api/internal/policy"
)

var (
	tokenUser string
	tokenName string
	tokenRole string
	tokenTTL  time.Duration
)

func init() {
	tokenCmd.Flags().String("jwt-secret", "", "signing secret, same as the server's CLAUSEMARK_JWT_SECRET")
	tokenCmd.Flags().StringVarP(&tokenUser, "user", "u", "", "user id (token subject)")
	tokenCmd.Flags().StringVarP(&tokenName, "name", "n", "", "display name shown on comments")
	tokenCmd.Flags().StringVarP(&tokenRole, "role", "r", string(policy.RoleEditor), "viewer, commenter, editor or admin")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "token lifetime")
	_ = tokenCmd.MarkFlagRequired("user")
	_ = viper.BindPFlag("jwt-secret", tokenCmd.Flags().Lookup("jwt-secret"))
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a bearer token for local testing",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		secret := viper.GetString("jwt-secret")
		if secret == "" {
			return errors.New("no signing secret: pass --jwt-secret or set CLAUSEMARK_JWT_SECRET")
		}
		name := tokenName
		if name == "" {
			name = tokenUser
		}
		role := policy.Normalize(tokenRole)
		token, err := auth.IssueToken([]byte(secret), auth.NewClaims(tokenUser, name, string(role), tokenTTL))
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}
