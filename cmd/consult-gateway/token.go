// ABOUTME: The token subcommand issues an access token for an existing patient
// ABOUTME: Useful for smoke-testing the stream endpoints without a login round trip

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/2389/consult-gateway/internal/auth"
	"github.com/2389/consult-gateway/internal/config"
	"github.com/2389/consult-gateway/internal/store"
)

type tokenArgs struct {
	email string
	ttl   time.Duration
}

// parseTokenArgs accepts both "--flag value" and "--flag=value".
func parseTokenArgs(args []string) (tokenArgs, error) {
	var out tokenArgs

	for i := 0; i < len(args); i++ {
		arg := args[i]
		name, value, hasValue := strings.Cut(arg, "=")

		switch name {
		case "--email", "-e", "--ttl":
		default:
			if strings.HasPrefix(arg, "-") {
				return out, fmt.Errorf("unknown flag: %s", arg)
			}
			return out, fmt.Errorf("unexpected argument: %s", arg)
		}

		if !hasValue {
			if i+1 >= len(args) {
				return out, fmt.Errorf("%s requires a value", name)
			}
			value = args[i+1]
			i++
		}

		switch name {
		case "--email", "-e":
			out.email = strings.TrimSpace(value)
		case "--ttl":
			d, err := time.ParseDuration(value)
			if err != nil || d <= 0 {
				return out, fmt.Errorf("--ttl must be a positive duration, got %q", value)
			}
			out.ttl = d
		}
	}

	if out.email == "" {
		return out, fmt.Errorf("--email flag is required")
	}
	return out, nil
}

// openStore opens the configured database directly, without the gateway.
func openStore(cfg *config.Config) (*store.SQLStore, error) {
	if cfg.Database.Driver == "postgres" {
		return store.NewPostgresStore(cfg.Database.DSN, cfg.Database.MaxOpenConns)
	}

	dbPath := cfg.Database.Path
	if envPath := os.Getenv("CONSULT_DB_PATH"); envPath != "" {
		dbPath = envPath
	}
	return store.NewSQLiteStore(dbPath)
}

func runToken(ctx context.Context, args []string) error {
	parsed, err := parseTokenArgs(args)
	if err != nil {
		return err
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	s, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer s.Close()

	return issueToken(ctx, os.Stdout, s, auth.NewJWTService([]byte(cfg.Auth.JWTSecret), cfg.Auth.TokenTTL), parsed)
}

// patientLookup is the slice of the store the token command needs.
type patientLookup interface {
	GetPatientByEmail(ctx context.Context, email string) (*store.Patient, error)
}

func issueToken(ctx context.Context, out io.Writer, s patientLookup, tokens *auth.JWTService, args tokenArgs) error {
	p, err := s.GetPatientByEmail(ctx, store.NormalizeEmail(args.email))
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("no patient registered with email %s", args.email)
	}
	if err != nil {
		return fmt.Errorf("looking up patient: %w", err)
	}

	subject := strconv.FormatInt(p.ID, 10)
	var token string
	if args.ttl > 0 {
		token, err = tokens.Generate(subject, args.ttl)
	} else {
		token, err = tokens.Issue(subject)
	}
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	fmt.Fprintln(out, token)
	return nil
}
