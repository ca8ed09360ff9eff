package command

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/john/combinedchat/internal/backend"
	"github.com/john/combinedchat/internal/config"
	"github.com/john/combinedchat/internal/feed"
	"github.com/john/combinedchat/internal/session"
	"github.com/john/combinedchat/internal/store"
)

// app holds what every command builds from the config.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	api     *backend.Client
	closers []func() error
}

// newApp loads the config, sets up logging to logOut (unless log.file is
// set) and creates the backend client.
func newApp(cmd *cobra.Command, logOut io.Writer) (*app, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = "config.yaml"
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if u, _ := cmd.Flags().GetString("backend"); u != "" {
		cfg.Backend.URL = u
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	a := &app{cfg: cfg}
	a.logger, err = a.setupLogging(logOut)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(a.logger)

	a.api, err = backend.New(cfg.Backend.URL, cfg.RequestTimeout(), a.logger)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("create backend client: %w", err)
	}

	cookie, _ := cmd.Flags().GetString("session")
	if cookie == "" {
		cookie = os.Getenv("COMBINEDCHAT_SESSION")
	}
	if cookie != "" {
		if err := a.setSessionCookie(cookie); err != nil {
			a.close()
			return nil, err
		}
	}
	return a, nil
}

func (a *app) setupLogging(out io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(a.cfg.Log.Level)); err != nil {
		return nil, fmt.Errorf("parse log.level: %w", err)
	}
	if a.cfg.Log.File != "" {
		if err := os.MkdirAll(filepath.Dir(a.cfg.Log.File), 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(a.cfg.Log.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		a.closers = append(a.closers, f.Close)
		out = f
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewTextHandler(out, opts)
	if strings.EqualFold(a.cfg.Log.Format, "json") {
		handler = slog.NewJSONHandler(out, opts)
	}
	return slog.New(handler), nil
}

func (a *app) setSessionCookie(raw string) error {
	name, value, ok := strings.Cut(raw, "=")
	if !ok || name == "" {
		return fmt.Errorf("session cookie %q: want name=value", raw)
	}
	u, err := url.Parse(a.cfg.Backend.URL)
	if err != nil {
		return fmt.Errorf("parse backend url: %w", err)
	}
	a.api.Jar().SetCookies(u, []*http.Cookie{{Name: name, Value: value, Path: "/"}})
	return nil
}

// openStore builds the configured persistence backend. Any failure leaves
// persistence disabled rather than stopping the client.
func (a *app) openStore(ctx context.Context) *store.Store {
	sc := a.cfg.Store
	opts := []store.Option{
		store.WithLogger(a.logger),
		store.WithFlushInterval(a.cfg.StoreFlush()),
		store.WithWriteTimeout(a.cfg.StoreWriteTimeout()),
	}
	key := sc.Key

	var (
		b   store.Backend
		err error
	)
	switch sc.Driver {
	case config.DriverMemory:
		b = store.NewMemory()
	case config.DriverFile:
		if key == "" {
			key = strings.TrimSuffix(filepath.Base(sc.Path), filepath.Ext(sc.Path))
		}
		b, err = store.NewFile(filepath.Dir(sc.Path))
	case config.DriverSQLite:
		var db *store.SQLite
		db, err = store.OpenSQLite(sc.Path)
		if err == nil {
			a.closers = append(a.closers, db.Close)
			b = db
		}
	case config.DriverS3:
		b, err = store.NewS3(ctx, store.S3Options{
			Bucket:               sc.S3.Bucket,
			Region:               sc.S3.Region,
			Prefix:               sc.S3.Prefix,
			Endpoint:             sc.S3.Endpoint,
			RoleARN:              sc.S3.RoleARN,
			WebIdentityTokenFile: sc.S3.WebIdentityTokenFile,
			AccessKeyID:          sc.S3.AccessKeyID,
			SecretAccessKey:      sc.S3.SecretAccessKey,
		})
	}
	if err != nil {
		a.logger.Warn("store: backend unavailable, persistence disabled",
			slog.String("driver", sc.Driver), slog.Any("err", err))
		b = nil
	}
	opts = append(opts, store.WithKey(key))
	return store.New(b, a.cfg.Feed.MaxMessages, opts...)
}

func (a *app) newSession() (*session.Session, error) {
	wsURL, err := session.WebSocketURL(a.cfg.Backend.URL, a.cfg.Backend.WSPath)
	if err != nil {
		return nil, fmt.Errorf("build websocket url: %w", err)
	}
	dialer := session.WebsocketDialer{
		Dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: a.cfg.RequestTimeout(),
			Jar:              a.api.Jar(),
		},
	}
	return session.New(dialer, wsURL, a.logger), nil
}

func (a *app) feedOptions() feed.Options {
	f := a.cfg.Feed
	return feed.Options{
		MaxMessages:   f.MaxMessages,
		BufferLimit:   f.BufferedMessageLimit,
		UnreadCap:     f.UnreadDisplayCap,
		BottomEpsilon: f.BottomEpsilon,
		SuppressFor:   a.cfg.ScrollSuppress(),
		Logger:        a.logger,
	}
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && a.logger != nil {
			a.logger.Warn("close failed", slog.Any("err", err))
		}
	}
	a.closers = nil
}
