package console

import "strings"

// Severity classifies a console record.
type Severity uint8

const (
	// SeverityInfo is ordinary output.
	SeverityInfo Severity = iota

	// SeverityWarning is a warning.
	SeverityWarning

	// SeverityError is an error.
	SeverityError
)

// String returns a human-readable severity name.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "unknown"
	}
}

// IsProblem returns true for warnings and errors.
func (s Severity) IsProblem() bool {
	return s == SeverityWarning || s == SeverityError
}

// ParseSeverity parses a severity name. Unknown names are info.
func ParseSeverity(s string) Severity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "warning", "warn":
		return SeverityWarning
	case "error", "err":
		return SeverityError
	default:
		return SeverityInfo
	}
}

const (
	errorPrefix   = "error"
	verbosePrefix = "verbose("
)

// Classify derives severity from markers the engine embeds at the start of a
// line and returns the line with the marker removed.
//
//	"error: msg"       -> error, "msg"
//	"errors found"     -> info,  "errors found"
//	"verbose(0): msg"  -> error, "msg"   (levels 0 and 1 are fatal/error)
//	"verbose(4): msg"  -> info,  "msg"
//	"msg"              -> info,  "msg"
func Classify(line string) (Severity, string) {
	if rest, ok := strings.CutPrefix(line, errorPrefix); ok && endsMarker(rest) {
		rest = strings.TrimPrefix(rest, ":")
		return SeverityError, strings.TrimPrefix(rest, " ")
	}

	if strings.HasPrefix(line, verbosePrefix) {
		end := strings.Index(line, "):")
		if end > len(verbosePrefix) {
			level := line[len(verbosePrefix):end]
			rest := strings.TrimPrefix(line[end+2:], " ")
			if level == "0" || level == "1" {
				return SeverityError, rest
			}
			return SeverityInfo, rest
		}
	}

	return SeverityInfo, line
}

// endsMarker reports whether rest starts where a marker word may end.
func endsMarker(rest string) bool {
	return rest == "" || rest[0] == ':' || rest[0] == ' '
}
