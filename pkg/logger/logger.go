package logger

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog"
	slogmulti "github.com/samber/slog-multi"
	slogsentry "github.com/samber/slog-sentry/v2"
	slogzerolog "github.com/samber/slog-zerolog/v2"
)

type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	// WithComponent returns a logger tagging every record with component=name.
	WithComponent(name string) Logger

	// Printf makes the logger usable as an fx.Printer.
	Printf(format string, args ...any)
}

type Opts struct {
	Env       string
	SentryURL string
}

type Impl struct {
	l *slog.Logger
}

var _ Logger = (*Impl)(nil)

func New(opts Opts) *Impl {
	level := slog.LevelDebug
	var zl zerolog.Logger
	if opts.Env == "production" {
		level = slog.LevelInfo
		zl = zerolog.New(os.Stdout).With().Timestamp().Logger()
	} else {
		zl = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	}

	handlers := []slog.Handler{
		slogzerolog.Option{Level: level, Logger: &zl}.NewZerologHandler(),
	}

	if opts.SentryURL != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:         opts.SentryURL,
			Environment: opts.Env,
		})
		if err == nil {
			handlers = append(handlers, slogsentry.Option{Level: slog.LevelError}.NewSentryHandler())
		} else {
			zl.Warn().Err(err).Msg("sentry disabled")
		}
	}

	return &Impl{l: slog.New(slogmulti.Fanout(handlers...))}
}

// NewNop returns a logger that discards everything. Intended for tests.
func NewNop() *Impl {
	return &Impl{l: slog.New(slog.DiscardHandler)}
}

func (i *Impl) Debug(msg string, args ...any) { i.l.Debug(msg, args...) }
func (i *Impl) Info(msg string, args ...any)  { i.l.Info(msg, args...) }
func (i *Impl) Warn(msg string, args ...any)  { i.l.Warn(msg, args...) }
func (i *Impl) Error(msg string, args ...any) { i.l.Error(msg, args...) }

func (i *Impl) WithComponent(name string) Logger {
	return &Impl{l: i.l.With("component", name)}
}

func (i *Impl) Printf(format string, args ...any) {
	i.l.Info(fmt.Sprintf(format, args...))
}
