package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// ServiceName is the instrumentation scope used for the OTel log bridge.
const ServiceName = "stockyard"

// osStdout is the console sink, swapped out by tests.
var osStdout io.Writer = os.Stdout

// SlogManager owns the extension's slog pipeline: a text sink, the optional
// OTel bridge and any extra handlers, all behind one adjustable level.
type SlogManager struct {
	logger      *slog.Logger
	level       slog.LevelVar
	logProvider *sdklog.LoggerProvider
}

// Options carries the optional sinks for Setup.
type Options struct {
	// Provider enables the OTel bridge when non-nil.
	Provider *sdklog.LoggerProvider
	// Context is called on every record to add dynamic attributes such as
	// the active yard count.
	Context ContextProvider
	// Extra handlers receive every record, e.g. a GELF sink.
	Extra []slog.Handler
}

// NewSlogManager creates a new slog-based logging manager.
func NewSlogManager() *SlogManager {
	return &SlogManager{}
}

// ParseLevel converts a string log level to slog.Level. Unknown levels map
// to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Setup initializes the logging system. Records go to file when one is
// given and to stdout otherwise.
func (m *SlogManager) Setup(file io.Writer, level string, opts Options) {
	m.level.Set(ParseLevel(level))
	m.logProvider = opts.Provider

	sink := file
	if sink == nil {
		sink = osStdout
	}
	handlers := []slog.Handler{slog.NewTextHandler(sink, &slog.HandlerOptions{
		Level:       &m.level,
		ReplaceAttr: utcTimestamps,
	})}
	if opts.Provider != nil {
		handlers = append(handlers, otelslog.NewHandler(ServiceName, otelslog.WithLoggerProvider(opts.Provider)))
	}
	handlers = append(handlers, opts.Extra...)

	var h slog.Handler = NewMultiHandler(handlers...)
	if opts.Context != nil {
		h = NewContextHandler(h, opts.Context)
	}

	m.logger = slog.New(h)
	m.logger.Info("Logging initialized", "level", m.level.Level())
}

// SetLevel changes the text sink's level without rebuilding the pipeline.
func (m *SlogManager) SetLevel(level string) slog.Level {
	m.level.Set(ParseLevel(level))
	return m.level.Level()
}

// Level returns the current level.
func (m *SlogManager) Level() slog.Level {
	return m.level.Level()
}

func utcTimestamps(_ []string, a slog.Attr) slog.Attr {
	if a.Key != slog.TimeKey {
		return a
	}
	if t, ok := a.Value.Any().(time.Time); ok {
		a.Value = slog.StringValue(t.UTC().Format(time.RFC3339))
	}
	return a
}

// Logger returns the configured slog.Logger.
func (m *SlogManager) Logger() *slog.Logger {
	if m.logger == nil {
		return slog.Default()
	}
	return m.logger
}

// Component returns a child logger tagged with the component name.
func (m *SlogManager) Component(name string) *slog.Logger {
	return m.Logger().With("component", name)
}

// Flush forces a flush of OTel logs if available.
func (m *SlogManager) Flush(ctx context.Context) error {
	if m.logProvider != nil {
		return m.logProvider.ForceFlush(ctx)
	}
	return nil
}
