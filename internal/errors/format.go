package errors

import (
	"fmt"
	"strings"
)

// FormatForCLI formats an error for terminal display.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}

	ce, ok := As(err)
	if !ok {
		return fmt.Sprintf("Error: %s\n", err.Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Error: %s\n", ce.Message))
	if ce.Cause != nil && ce.Cause.Error() != ce.Message {
		sb.WriteString(fmt.Sprintf("  Cause: %s\n", ce.Cause.Error()))
	}
	if ce.Suggestion != "" {
		sb.WriteString(fmt.Sprintf("  Hint: %s\n", ce.Suggestion))
	}
	sb.WriteString(fmt.Sprintf("  Code: %s\n", ce.Code))

	return sb.String()
}

// LogAttrs returns key-value pairs suitable for slog.
func LogAttrs(err error) []any {
	if err == nil {
		return nil
	}

	ce, ok := As(err)
	if !ok {
		return []any{"error", err.Error()}
	}

	attrs := []any{
		"error", ce.Message,
		"error_code", ce.Code,
		"category", string(ce.Category),
	}
	if ce.Cause != nil {
		attrs = append(attrs, "cause", ce.Cause.Error())
	}
	for k, v := range ce.Details {
		attrs = append(attrs, "detail_"+k, v)
	}
	return attrs
}
