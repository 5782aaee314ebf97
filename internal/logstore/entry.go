package logstore

import (
	"fmt"
	"strings"
	"time"
)

// Category names used by the pipeline. External tooling parses files by these prefixes.
const (
	CategoryAudit      = "entity-audit"
	CategoryValidation = "validation-errors"
	CategoryRisk       = "risk-warnings"
)

type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarn     Severity = "WARN"
	SeverityError    Severity = "ERROR"
	SeverityCritical Severity = "CRITICAL"
)

var (
	entrySeparator  = strings.Repeat("=", 80)
	headerSeparator = strings.Repeat("-", 80)
	bannerSeparator = strings.Repeat("#", 80)
)

const (
	dateLayout      = "2006-01-02"
	timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

// Entry is one self-delimited block in a log stream. The layout is parsed by
// downstream tooling and must stay stable.
type Entry struct {
	Severity  Severity
	Category  string
	ID        string
	Timestamp time.Time
	Source    string
	Body      string
}

// Format renders the entry. The block ends with a newline after the closing
// separator; Append adds one more, leaving a blank line between entries.
func (e Entry) Format() string {
	var b strings.Builder
	b.WriteString(entrySeparator)
	b.WriteByte('\n')
	fmt.Fprintf(&b, "[%s] category=%s id=%s timestamp=%s source=%s\n",
		e.Severity, e.Category, e.ID, e.Timestamp.UTC().Format(timestampLayout), e.Source)
	b.WriteString(headerSeparator)
	b.WriteByte('\n')
	body := strings.TrimRight(e.Body, "\n")
	if body != "" {
		b.WriteString(body)
		b.WriteByte('\n')
	}
	b.WriteString(entrySeparator)
	b.WriteByte('\n')
	return b.String()
}

// Header is the banner that opens every stream segment.
func Header(subsystem, key string, created time.Time) string {
	var b strings.Builder
	b.WriteString(bannerSeparator)
	b.WriteByte('\n')
	fmt.Fprintf(&b, "# subsystem: %s\n", subsystem)
	fmt.Fprintf(&b, "# stream: %s\n", key)
	fmt.Fprintf(&b, "# created: %s\n", created.UTC().Format(timestampLayout))
	b.WriteString(bannerSeparator)
	b.WriteString("\n\n")
	return b.String()
}

// StreamKey is the logical, date-scoped name of a stream.
func StreamKey(category string, t time.Time) string {
	return category + "_" + t.UTC().Format(dateLayout)
}

// FileName is the sink name of a stream's live buffer.
func FileName(key string) string {
	return key + ".txt"
}

// RotatedFileName is the sink name of a sealed segment.
func RotatedFileName(key string, epochMillis int64) string {
	return fmt.Sprintf("%s_%d.txt", key, epochMillis)
}
