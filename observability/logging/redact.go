package logging

import (
	"log/slog"
	"strings"
)

// Masked replaces values of keys that may carry operator-local details such as
// filesystem paths.
const Masked = "***"

// plainKeys are logged verbatim.
var plainKeys = map[string]bool{
	"backend":   true,
	"code":      true,
	"error":     true,
	"operation": true,
	"run":       true,
	"scenario":  true,
}

// MaskField builds a string attribute, masking value unless key is one of the
// plain keys. Blank values are kept so missing settings stay visible.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" || plainKeys[strings.ToLower(strings.TrimSpace(key))] {
		return slog.String(key, value)
	}
	return slog.String(key, Masked)
}
