package extension

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/stockyard/extension/internal/dispatcher"
	"github.com/stockyard/extension/internal/util"
)

// Lifecycle commands answered without touching the registry.
const (
	CommandVersion   = ":VERSION:"
	CommandSession   = ":SESSION:"
	CommandLogPath   = ":GETDIR:LOG:"
	CommandTimestamp = ":TIMESTAMP:"
	CommandLogLevel  = ":LOG:LEVEL:"
)

func (e *Extension) registerLifecycleHandlers(d *dispatcher.Dispatcher) {
	d.Register(CommandVersion, func(dispatcher.Event) (any, error) {
		return []string{CurrentExtensionVersion, BuildDate}, nil
	})

	d.Register(CommandSession, func(ev dispatcher.Event) (any, error) {
		if len(ev.Args) > 0 {
			e.SetSession(util.FixEscapeQuotes(util.TrimQuotes(ev.Arg(0))))
			e.log.Info("Session started")
		}
		return e.Session(), nil
	}, dispatcher.Logged())

	d.Register(CommandLogPath, func(dispatcher.Event) (any, error) {
		return e.logPath, nil
	})

	d.Register(CommandTimestamp, func(dispatcher.Event) (any, error) {
		return strconv.FormatInt(time.Now().UTC().UnixNano(), 10), nil
	})

	// With an argument the slog level is changed; the reply is the level in
	// effect. The zerolog sinks keep their configured level.
	d.Register(CommandLogLevel, func(ev dispatcher.Event) (any, error) {
		if arg := util.CleanArg(ev.Arg(0)); arg != "" {
			lvl := e.slogManager.SetLevel(arg)
			e.log.Info("Log level changed", "level", lvl)
		}
		return strings.ToLower(e.slogManager.Level().String()), nil
	}, dispatcher.Logged())
}

// Dispatch routes a host command to its handler.
func (e *Extension) Dispatch(command string, args ...string) (any, error) {
	return e.dispatcher.Dispatch(dispatcher.Event{
		Command:   command,
		Args:      args,
		Timestamp: time.Now(),
	})
}

// Call dispatches a command and renders the reply for a string-based host
// binding: ["ok"], ["ok", <json>] or ["error", "<message>"].
func (e *Extension) Call(command string, args ...string) string {
	result, err := e.Dispatch(command, args...)
	return formatResponse(result, err)
}

func formatResponse(result any, err error) string {
	if err != nil {
		msg, _ := json.Marshal(err.Error())
		return fmt.Sprintf(`["error", %s]`, msg)
	}
	if result == nil {
		return `["ok"]`
	}
	// Status documents are already JSON.
	if s, ok := result.(string); ok && isJSONDocument(s) {
		return fmt.Sprintf(`["ok", %s]`, s)
	}
	data, mErr := json.Marshal(result)
	if mErr != nil {
		return fmt.Sprintf(`["ok", %q]`, fmt.Sprint(result))
	}
	return fmt.Sprintf(`["ok", %s]`, data)
}

func isJSONDocument(s string) bool {
	if s == "" || (s[0] != '{' && s[0] != '[') {
		return false
	}
	return json.Valid([]byte(s))
}
