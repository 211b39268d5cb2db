package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/PaulFidika/spinauth/autherr"
	"github.com/PaulFidika/spinauth/config"
	"github.com/PaulFidika/spinauth/core"
	"github.com/PaulFidika/spinauth/jwks"
	jwtkit "github.com/PaulFidika/spinauth/jwt"
	memorystore "github.com/PaulFidika/spinauth/storage/memory"
)

var verifyCmd = &cobra.Command{
	Use:   "verify [token]",
	Short: "Verify a token and print its claims",
	Long: `Verify a token against the configured environment's JWKS and print the
claims as JSON. The token may be given bare or as "Bearer <token>"; with no
argument it is read from stdin.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log, err := config.NewLogger(cfg.LogLevel, cfg.LogFormat, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		token, err := readToken(args, cmd.InOrStdin())
		if err != nil {
			return err
		}
		claims, err := verifyToken(cmd, cfg, log, token)
		if err != nil {
			return fmt.Errorf("%s (%s)", autherr.DetailOf(err), autherr.KindOf(err))
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(claims)
	},
}

func readToken(args []string, stdin io.Reader) (string, error) {
	var raw string
	if len(args) == 1 {
		raw = args[0]
	} else {
		line, err := bufio.NewReader(stdin).ReadString('\n')
		if err != nil && err != io.EOF {
			return "", err
		}
		raw = line
	}
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "Bearer ") {
		return jwtkit.ExtractBearer(raw)
	}
	return strings.Trim(raw, `"`), nil
}

func verifyToken(cmd *cobra.Command, cfg config.Config, log *logrus.Logger, token string) (map[string]any, error) {
	cache := memorystore.NewKeyCache(0)
	opts := append([]jwks.Option{jwks.WithLogger(log)}, cfg.Accept.ResolverOptions()...)
	resolver, err := jwks.NewResolver(cfg.Accept.ResolverConfig(), cache, opts...)
	if err != nil {
		return nil, err
	}
	svc := core.NewService(cfg.Accept, resolver, core.WithLogger(log))
	return svc.VerifyToken(cmd.Context(), token)
}
