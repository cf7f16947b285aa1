// ABOUTME: Entry point for consult-gateway, the patient-facing consultation API
// ABOUTME: Dispatches the serve, init, health and token subcommands

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/2389/consult-gateway/internal/config"
	"github.com/2389/consult-gateway/internal/gateway"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                             _ _                     _
  ___ ___  _ __  ___ _   _| | |_       __ _  __ _| |_ _____      ____ _ _   _
 / __/ _ \| '_ \/ __| | | | | __|____ / _' |/ _' | __/ _ \ \ /\ / / _' | | | |
| (_| (_) | | | \__ \ |_| | | ||_____| (_| | (_| | ||  __/\ V  V / (_| | |_| |
 \___\___/|_| |_|___/\__,_|_|\__|     \__, |\__,_|\__\___| \_/\_/ \__,_|\__, |
                                      |___/                             |___/
`

// getConfigPath returns the path to the gateway config file.
// Priority: CONSULT_CONFIG env var > XDG_CONFIG_HOME/consult/gateway.yaml > ~/.config/consult/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("CONSULT_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "consult", "gateway.yaml")
}

// getDataPath returns the path to the consult data directory.
// Priority: XDG_DATA_HOME/consult > ~/.local/share/consult
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "consult")
}

// loadEnvFile reads a .env file from the working directory if one exists.
// Values already present in the environment win.
func loadEnvFile() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}
	return nil
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "Usage: consult-gateway <command>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve                    Start the gateway server")
	fmt.Fprintln(w, "  init                     Create a new config file interactively")
	fmt.Fprintln(w, "  health                   Check gateway health")
	fmt.Fprintln(w, "  token --email EMAIL      Issue an access token for a registered patient")
}

func main() {
	if len(os.Args) < 2 {
		usage(os.Stdout)
		os.Exit(1)
	}

	if err := loadEnvFile(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "health":
		err = runHealth(ctx)
	case "token":
		err = runToken(ctx, os.Args[2:])
	case "help", "-h", "--help":
		usage(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	if cfg.Server.GRPCAddr != "" {
		green.Print("    ▶ ")
		fmt.Printf("gRPC:      %s\n", cfg.Server.GRPCAddr)
	}
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Database.Driver)
	green.Print("    ▶ ")
	fmt.Printf("Engine:    %s", cfg.Engine.Mode)
	if cfg.Engine.Mode == "echo" {
		yellow.Print(" [scripted]")
	} else {
		gray.Printf(" (%s)", cfg.Engine.URL)
	}
	fmt.Println()
	green.Print("    ▶ ")
	fmt.Printf("Threads:   %s\n", cfg.Threads.Backend)

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}

	fmt.Println()

	logger.Info("starting consult-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"grpc_addr", cfg.Server.GRPCAddr,
		"engine_mode", cfg.Engine.Mode,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	return checkHealth(ctx, http.DefaultClient, "http://"+cfg.Server.HTTPAddr)
}

// checkHealth queries the liveness and readiness endpoints under baseURL.
func checkHealth(ctx context.Context, client *http.Client, baseURL string) error {
	for _, path := range []string{"/health", "/health/ready"} {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+path, nil)
		if err != nil {
			return fmt.Errorf("creating request: %w", err)
		}

		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("health check failed: %w", err)
		}
		resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("unhealthy: %s returned status %d", path, resp.StatusCode)
		}
	}

	fmt.Println("healthy")
	return nil
}
