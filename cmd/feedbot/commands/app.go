// Package commands implements the feedbot CLI verbs.
package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/feedstock-bot/feedbot/internal/config"
	"github.com/feedstock-bot/feedbot/internal/observability"
	"github.com/feedstock-bot/feedbot/pkg/forge"
	"github.com/feedstock-bot/feedbot/pkg/lazyjson"
)

// Log rotation parameters for the file sink.
const (
	logMaxSizeMB  = 100
	logMaxBackups = 3
)

// ErrSkipped signals a configured skip; the process exits 2.
var ErrSkipped = errors.New("commands: skipped by configuration")

// GlobalFlags holds the root-level flags shared by every verb.
type GlobalFlags struct {
	ConfigPath   string
	Debug        bool
	Online       bool
	NoContainers bool
	DryRun       bool
}

// App wires the configured store, forge gateway, metrics, and logger for
// one verb invocation.
type App struct {
	Config  *config.Config
	Flags   *GlobalFlags
	Store   *lazyjson.Store
	Logger  *slog.Logger
	Metrics *observability.Metrics

	// Gateway is built lazily; tests inject a forge.Fake here.
	Gateway forge.Gateway

	closers []func() error
}

// newApp loads configuration and builds the shared runtime.
func newApp(ctx context.Context, flags *GlobalFlags) (*App, error) {
	cfg, err := config.LoadConfig(flags.ConfigPath)
	if err != nil {
		return nil, err
	}

	if flags.Debug {
		cfg.Debug = true
	}

	app := &App{
		Config:  cfg,
		Flags:   flags,
		Logger:  newLogger(cfg, os.Stderr),
		Metrics: observability.NewMetrics(),
	}

	if err := app.buildStore(ctx); err != nil {
		return nil, err
	}

	return app, nil
}

// Close releases backend handles and, in debug, dumps store counters.
func (a *App) Close() error {
	if a.Config.Debug && a.Store != nil {
		reads, writes := a.Store.Stats()
		a.Logger.Debug("store counters",
			slog.Int64("reads", reads),
			slog.Int64("writes", writes),
			slog.String("cache", a.Store.CacheStats().String()))
	}

	var firstErr error

	for _, closer := range a.closers {
		if err := closer(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

// ensureGateway builds the GitHub gateway on first use. Online verbs fail
// fast without a credential.
func (a *App) ensureGateway() (forge.Gateway, error) {
	if a.Gateway != nil {
		return a.Gateway, nil
	}

	if err := a.Config.RequireToken(); err != nil {
		return nil, err
	}

	a.Gateway = forge.NewGitHub(forge.GitHubConfig{
		Token:    a.Config.Forge.Token,
		BotName:  a.Config.Forge.BotName,
		BotEmail: a.Config.Forge.BotEmail,
		Host:     a.Config.Forge.Host,
	})

	return a.Gateway, nil
}

// buildStore assembles the backend list in configured order. With
// --online the local graph checkout is replaced by a scratch-rooted
// primary so reads fall through to the mirror.
func (a *App) buildStore(ctx context.Context) error {
	cfg := a.Config
	depth := cfg.Graph.ShardDepth

	var backends []lazyjson.Backend

	if a.Flags.Online {
		if !cfg.HasBackend(config.BackendMirror) {
			return errors.New("--online requires the mirror backend in graph.backends")
		}

		online := filepath.Join(cfg.Scratch, "feedbot-graph")
		backends = append(backends, lazyjson.NewFileBackend(online, depth))
	}

	for _, name := range cfg.BackendList() {
		switch name {
		case config.BackendFile:
			if a.Flags.Online {
				continue
			}

			backends = append(backends, lazyjson.NewFileBackend(cfg.Graph.Dir, depth))
		case config.BackendMirror:
			backends = append(backends, lazyjson.NewMirrorBackend(cfg.Graph.MirrorURL, depth))
		case config.BackendDatabase:
			db, err := lazyjson.OpenDB(cfg.Graph.DatabaseURL)
			if err != nil {
				return fmt.Errorf("open database backend: %w", err)
			}

			a.closers = append(a.closers, db.Close)
			backends = append(backends, db)
		}
	}

	opts := []lazyjson.Option{
		lazyjson.WithLogger(a.Logger),
		lazyjson.WithPendingDir(filepath.Join(cfg.Scratch, "feedbot-pending")),
	}

	if cfg.Graph.FileCache {
		cache := lazyjson.NewFileCache(filepath.Join(cfg.Scratch, "feedbot-cache"), depth)
		opts = append(opts, lazyjson.WithCache(cache))
	}

	store, err := lazyjson.NewStore(backends, opts...)
	if err != nil {
		return err
	}

	if err := store.ReplayPending(ctx); err != nil {
		a.Logger.Warn("pending replay failed", slog.Any("error", err))
	}

	a.Store = store

	return nil
}

// newLogger builds the process logger: text in debug, JSON otherwise,
// with an optional rotating file sink. The forge token is scrubbed from
// every attribute value.
func newLogger(cfg *config.Config, stderr io.Writer) *slog.Logger {
	sink := stderr
	if cfg.LogFile != "" {
		sink = &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    logMaxSizeMB,
			MaxBackups: logMaxBackups,
		}
	}

	opts := &slog.HandlerOptions{
		Level:       slog.LevelInfo,
		ReplaceAttr: redactToken(cfg.Forge.Token),
	}

	if cfg.Debug {
		opts.Level = slog.LevelDebug

		return slog.New(slog.NewTextHandler(sink, opts))
	}

	return slog.New(slog.NewJSONHandler(sink, opts))
}

// redactToken scrubs the credential from attribute values. The token is
// never intentionally logged; this catches it riding inside wrapped
// errors and URLs.
func redactToken(token string) func([]string, slog.Attr) slog.Attr {
	if token == "" {
		return nil
	}

	return func(_ []string, attr slog.Attr) slog.Attr {
		if attr.Value.Kind() == slog.KindAny {
			attr.Value = slog.StringValue(fmt.Sprint(attr.Value.Any()))
		}

		if attr.Value.Kind() == slog.KindString {
			s := attr.Value.String()
			if strings.Contains(s, token) {
				attr.Value = slog.StringValue(strings.ReplaceAll(s, token, "***"))
			}
		}

		return attr
	}
}

// runWithApp wraps a verb body with app construction and teardown.
func runWithApp(flags *GlobalFlags, fn func(cmd *cobra.Command, app *App) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		app, err := newApp(cmd.Context(), flags)
		if err != nil {
			return err
		}

		defer app.Close()

		return fn(cmd, app)
	}
}
