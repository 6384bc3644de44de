// Package cmd holds the clausemark command line: comment review against a
// running API, offline highlight rendering, and token minting for local use.
package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"clausemark/api/internal/client"
	"clausemark/api/internal/logger"
	"clausemark/api/internal/workspace"
)

var (
	cfgFile   string
	quietLogs bool
	jsonOut   bool
)

func init() {
	cobra.OnInitialize(loadConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (yaml, json, toml or .env)")
	rootCmd.PersistentFlags().String("api-url", "http://localhost:8080", "base URL of the comments API")
	rootCmd.PersistentFlags().String("token", "", "bearer token sent with every request")
	rootCmd.PersistentFlags().String("contract", "", "contract id")
	rootCmd.PersistentFlags().String("page-url", "", "host page URL; its contract_id query or /contracts/{id} path names the contract")
	rootCmd.PersistentFlags().Duration("timeout", 15*time.Second, "request timeout")
	rootCmd.PersistentFlags().BoolVarP(&quietLogs, "quiet", "q", false, "only log warnings and errors")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "print JSON instead of text")

	for _, name := range []string{"api-url", "token", "contract", "page-url", "timeout"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}

	rootCmd.AddCommand(commentsCmd, renderCmd, tokenCmd)
}

var rootCmd = &cobra.Command{
	Use:           "clausemark",
	Short:         "Review contract comments and tracked changes",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// loadConfig binds CLAUSEMARK_* variables and reads the optional config file.
// Flags win over env, env over the file.
func loadConfig() {
	viper.SetEnvPrefix("CLAUSEMARK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	level := "info"
	if quietLogs {
		level = "warn"
	}
	logger.Configure(level, false)
	logger.SetOutput(os.Stderr)

	if cfgFile == "" {
		return
	}
	viper.SetConfigFile(cfgFile)
	if err := viper.ReadInConfig(); err != nil {
		logger.For(context.Background()).WithError(err).WithField("file", cfgFile).Warn("could not read config file")
	}
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logger.For(context.Background()).WithError(err).Error("clausemark failed")
		os.Exit(1)
	}
}

func apiClient() *client.Client {
	return client.New(viper.GetString("api-url"), viper.GetString("token"))
}

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = logger.NewContextWithFields(ctx, logrus.Fields{"command": cmd.CommandPath()})
	return context.WithTimeout(ctx, viper.GetDuration("timeout"))
}

// contractID picks the contract from --page-url, then --contract.
func contractID() (string, error) {
	id, ok := client.ResolveContractID(viper.GetString("page-url"), viper.GetString("contract"), "")
	if !ok {
		return "", fmt.Errorf("no contract: pass --contract or --page-url, or set CLAUSEMARK_CONTRACT")
	}
	return id, nil
}

// openWorkspace loads the contract and its comments so removals go through
// the same policy checks and document updates a browser session would.
func openWorkspace(ctx context.Context, cmd *cobra.Command) (*workspace.Workspace, error) {
	id, err := contractID()
	if err != nil {
		return nil, err
	}
	api := apiClient()
	opts := workspace.DefaultOptions()
	opts.Notifier = streamNotifier{cmd: cmd}
	ws := workspace.New(api, api, opts)
	if err := ws.Open(ctx, id); err != nil {
		ws.Close()
		return nil, err
	}
	return ws, nil
}

// streamNotifier prints workspace toasts on stderr.
type streamNotifier struct {
	cmd *cobra.Command
}

func (n streamNotifier) Notify(ctx context.Context, level workspace.Level, message string) {
	if level == workspace.LevelInfo && quietLogs {
		return
	}
	fmt.Fprintf(n.cmd.ErrOrStderr(), "[%s] %s\n", level, message)
}
