package fault

import (
	"errors"
	"fmt"
)

// Kind classifies a fatal harness condition.
type Kind string

const (
	KindToolNotFound       Kind = "tool_not_found"
	KindConfiguration      Kind = "configuration"
	KindServerStartup      Kind = "server_startup"
	KindChannel            Kind = "channel"
	KindStateTimeout       Kind = "state_timeout"
	KindLogAssertion       Kind = "log_assertion"
	KindDebuggerInvocation Kind = "debugger_invocation"
	KindUnknownScenario    Kind = "unknown_scenario"
)

// Error is the single error type used for every fatal condition. None of them are
// retried; callers abort the run after teardown.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same kind, so errors.Is(err, &Error{Kind: k}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Msg == "" && t.Err == nil && t.Kind == e.Kind
}

func newf(k Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: k, Msg: fmt.Sprintf(format, args...), Err: cause}
}

func ToolNotFound(name string) error {
	return newf(KindToolNotFound, nil, "required tool '%s' was not found in PATH", name)
}

func Configuration(format string, args ...any) error {
	return newf(KindConfiguration, nil, format, args...)
}

func ServerStartup(cause error, format string, args ...any) error {
	return newf(KindServerStartup, cause, format, args...)
}

func Channel(cause error, format string, args ...any) error {
	return newf(KindChannel, cause, format, args...)
}

func StateTimeout(format string, args ...any) error {
	return newf(KindStateTimeout, nil, format, args...)
}

func LogAssertion(cause error, format string, args ...any) error {
	return newf(KindLogAssertion, cause, format, args...)
}

func DebuggerInvocation(cause error, format string, args ...any) error {
	return newf(KindDebuggerInvocation, cause, format, args...)
}

func UnknownScenario(raw string) error {
	return newf(KindUnknownScenario, nil, "unknown scenario '%s'", raw)
}

// KindOf returns the kind of the first *Error in err's chain, or "" when there is none.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, k Kind) bool { return KindOf(err) == k }

// ExitCode maps an error to the process exit status. nil maps to 0 and errors
// without a kind map to 1.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch KindOf(err) {
	case KindToolNotFound:
		return 2
	case KindConfiguration:
		return 3
	case KindServerStartup:
		return 4
	case KindChannel:
		return 5
	case KindStateTimeout:
		return 6
	case KindLogAssertion:
		return 7
	case KindDebuggerInvocation:
		return 8
	case KindUnknownScenario:
		return 9
	default:
		return 1
	}
}
