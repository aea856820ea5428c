// Command tokengen mints a producer JWT signed with the configured secret.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/phrazzld/taskqueue/internal/config"
	"github.com/phrazzld/taskqueue/internal/service/auth"
)

func main() {
	subject := flag.String("subject", "", "Token subject, e.g. the producing service name (required)")
	configFile := flag.String("config", "", "Path to a YAML config file")
	lifetime := flag.Duration("lifetime", 0, "Token lifetime (default: auth.token_lifetime_minutes)")
	flag.Parse()

	if *subject == "" {
		fmt.Fprintln(os.Stderr, "usage: tokengen -subject NAME [-config FILE] [-lifetime 24h]")
		os.Exit(2)
	}

	token, err := generate(*configFile, *subject, *lifetime)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tokengen: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}

func generate(configFile, subject string, lifetime time.Duration) (string, error) {
	if err := config.LoadDotEnv(); err != nil {
		return "", err
	}
	cfg, err := config.Load(configFile)
	if err != nil {
		return "", err
	}
	if cfg.Auth.JWTSecret == "" {
		return "", fmt.Errorf("auth.jwt_secret is not configured")
	}
	if lifetime <= 0 {
		lifetime = time.Duration(cfg.Auth.TokenLifetimeMinutes) * time.Minute
	}

	svc, err := auth.NewJWTService(cfg.Auth.JWTSecret, lifetime)
	if err != nil {
		return "", err
	}
	return svc.GenerateToken(context.Background(), subject)
}
