package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/PaulFidika/spinauth/config"
)

var (
	v          = config.New()
	configFile string
)

var rootCmd = &cobra.Command{
	Use:   "spinauth",
	Short: "Bearer-token gate for Dynamic-issued JWTs",
	Long: `spinauth verifies RS256 JWTs issued by Dynamic against the JWKS
published for a configured environment, and exposes the result over HTTP.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if configFile == "" {
			return nil
		}
		v.SetConfigFile(configFile)
		return v.ReadInConfig()
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Optional config file (yaml, json or toml)")

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	bindFlag(rootCmd, config.LogLevelKey, "log-level")
	rootCmd.PersistentFlags().String("log-format", "text", "Log format (text, json)")
	bindFlag(rootCmd, config.LogFormatKey, "log-format")
	rootCmd.PersistentFlags().String("environment-id", "", "Dynamic environment id (default $DYNAMIC_ENV_ID)")
	bindFlag(rootCmd, config.EnvironmentIDKey, "environment-id")
	rootCmd.PersistentFlags().String("jwks-url-template", "", "JWKS URL template containing {environment_id}")
	bindFlag(rootCmd, config.JWKSURLTemplateKey, "jwks-url-template")

	rootCmd.AddCommand(serveCmd, verifyCmd)
}

// bindFlag binds a persistent or local flag to key. Flags only override the
// environment when set explicitly.
func bindFlag(cmd *cobra.Command, key, flag string) {
	f := cmd.PersistentFlags().Lookup(flag)
	if f == nil {
		f = cmd.Flags().Lookup(flag)
	}
	_ = v.BindPFlag(key, f)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", strings.TrimSpace(err.Error()))
		os.Exit(1)
	}
}

// loadConfig is shared by the subcommands.
func loadConfig() (config.Config, error) {
	return config.Load(v)
}
