// pantryctl is a command line client for a pantry model-runner daemon:
// registration, model management, approval requests, and streaming
// prompts from the shell.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	pantry "github.com/randalmurphal/pantry-go"
)

// fileConfig is ~/.pantry/config.yaml. Flags override it.
type fileConfig struct {
	SocketPath      string `yaml:"socket_path"`
	BaseURL         string `yaml:"base_url"`
	CredentialsFile string `yaml:"credentials_file"`
	RequestTimeout  string `yaml:"request_timeout"`
	HeaderTimeout   string `yaml:"header_timeout"`
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".pantry", "config.yaml")
	}
	return filepath.Join(home, ".pantry", "config.yaml")
}

func loadFileConfig(path string) (fileConfig, error) {
	var cfg fileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

type app struct {
	configPath string
	socketPath string
	baseURL    string
	credsFile  string
	verbose    bool

	log zerolog.Logger
}

// client builds the pantry client from flags and the config file.
func (a *app) client() (*pantry.Client, error) {
	cfg, err := loadFileConfig(a.configPath)
	if err != nil {
		return nil, err
	}

	socket := firstNonEmpty(a.socketPath, cfg.SocketPath)
	baseURL := firstNonEmpty(a.baseURL, cfg.BaseURL)
	creds := firstNonEmpty(a.credsFile, cfg.CredentialsFile, pantry.DefaultCredentialsPath())

	opts := []pantry.Option{
		pantry.WithCredentialsFile(creds),
		pantry.WithLogger(a.log),
	}
	switch {
	case baseURL != "":
		opts = append(opts, pantry.WithBaseURL(baseURL))
	case socket != "":
		opts = append(opts, pantry.WithSocketPath(socket))
	}

	if cfg.RequestTimeout != "" {
		d, err := time.ParseDuration(cfg.RequestTimeout)
		if err != nil {
			return nil, fmt.Errorf("request_timeout: %w", err)
		}
		opts = append(opts, pantry.WithRequestTimeout(d))
	}
	if cfg.HeaderTimeout != "" {
		d, err := time.ParseDuration(cfg.HeaderTimeout)
		if err != nil {
			return nil, fmt.Errorf("header_timeout: %w", err)
		}
		opts = append(opts, pantry.WithHeaderTimeout(d))
	}

	return pantry.New(opts...)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func main() {
	a := &app{}

	root := &cobra.Command{
		Use:           "pantryctl",
		Short:         "Control a pantry model-runner daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := zerolog.WarnLevel
			if a.verbose {
				level = zerolog.DebugLevel
			}
			a.log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
				Level(level).
				With().Timestamp().Logger()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", defaultConfigPath(), "config file")
	flags.StringVar(&a.socketPath, "socket", "", "daemon unix socket path")
	flags.StringVar(&a.baseURL, "url", "", "daemon base URL")
	flags.StringVar(&a.credsFile, "credentials", "", "credentials file")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		newRegisterCmd(a),
		newPermissionsCmd(a),
		newModelsCmd(a),
		newLoadCmd(a),
		newUnloadCmd(a),
		newDownloadCmd(a),
		newPromptCmd(a),
		newBareCmd(a),
		newSchemaCmd(a),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "pantryctl:", err)
		os.Exit(1)
	}
}
