// Command forgectl drives the Forge API from the command line.
//
// Usage:
//
//	forgectl [-config file] [-env file] [-debug] <command> [flags]
//
// The connection is read from the config file, or from FORGE_* variables
// (optionally loaded from a .env file). Sessions persist in the configured
// store, a bolt file in the user config directory by default.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/adamwoolhether/forge"
	"github.com/adamwoolhether/forge/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "forgectl:", err)
		os.Exit(1)
	}
}

// fileConfig is the layout of the -config file.
type fileConfig struct {
	Forge forge.Config `yaml:"forge"`
	Store store.Config `yaml:"store"`
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fset := flag.NewFlagSet("forgectl", flag.ContinueOnError)
	fset.SetOutput(stderr)
	configPath := fset.String("config", "", "YAML config file")
	envPath := fset.String("env", ".env", "dotenv file loaded before reading FORGE_* variables")
	debug := fset.Bool("debug", false, "log requests and responses")
	if err := fset.Parse(args); err != nil {
		return err
	}

	if fset.NArg() == 0 {
		fset.Usage()
		return errors.New("missing command")
	}

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := loadConfig(*configPath, *envPath)
	if err != nil {
		return err
	}

	st, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("closing store", "error", err)
		}
	}()

	opts := []forge.Option{forge.WithLogger(logger), forge.WithUserAgent("forgectl")}
	if *debug {
		opts = append(opts, forge.WithDebugLogging())
	}

	svc, err := forge.New(ctx, cfg.Forge, st, opts...)
	if err != nil {
		return err
	}
	defer svc.Close()

	cmd, ok := commands[fset.Arg(0)]
	if !ok {
		return fmt.Errorf("unknown command %q", fset.Arg(0))
	}

	out, err := cmd(ctx, svc, fset.Args()[1:], stdout)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func loadConfig(path, envPath string) (fileConfig, error) {
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return fileConfig{}, fmt.Errorf("reading config: %w", err)
		}

		var fc fileConfig
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return fileConfig{}, fmt.Errorf("decoding config: %w", err)
		}

		return withDefaultStore(fc)
	}

	if err := godotenv.Load(envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fileConfig{}, fmt.Errorf("loading %s: %w", envPath, err)
	}

	cfg, err := forge.ConfigFromEnv()
	if err != nil {
		return fileConfig{}, err
	}

	return withDefaultStore(fileConfig{Forge: cfg})
}

func withDefaultStore(fc fileConfig) (fileConfig, error) {
	if fc.Store.Driver != "" {
		return fc, nil
	}

	dir, err := os.UserConfigDir()
	if err != nil {
		return fileConfig{}, fmt.Errorf("locating config dir: %w", err)
	}

	fc.Store = store.Config{Driver: store.DriverBolt, Path: filepath.Join(dir, "forgectl", "credentials.db")}

	return fc, nil
}
