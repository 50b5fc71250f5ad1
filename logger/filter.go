package logger

import (
	"net/http"
	"net/url"
	"strings"
)

// DefaultMaskValue replaces sensitive values in log output.
const DefaultMaskValue = "***"

// FilterConfig defines the configuration for sensitive data filtering
type FilterConfig struct {
	// SensitiveFields contains field or header names (matched case-insensitively as substrings)
	// whose values are masked in logs
	SensitiveFields []string
	// MaskValue is the value used to replace sensitive data (default: "***")
	MaskValue string
}

// DefaultFilterConfig returns a configuration covering credentials and anti-forgery tokens
// that commonly travel in request headers and payloads.
func DefaultFilterConfig() *FilterConfig {
	return &FilterConfig{
		SensitiveFields: []string{
			"password", "passwd", "secret",
			"token", "csrf", "api_key", "apikey",
			"auth", "authorization",
			"cookie", "credential",
		},
		MaskValue: DefaultMaskValue,
	}
}

// SensitiveDataFilter masks sensitive values before they reach the log writer.
type SensitiveDataFilter struct {
	config *FilterConfig
}

// NewSensitiveDataFilter creates a new filter with the given configuration
func NewSensitiveDataFilter(config *FilterConfig) *SensitiveDataFilter {
	if config == nil {
		config = DefaultFilterConfig()
	}
	if config.MaskValue == "" {
		config.MaskValue = DefaultMaskValue
	}
	return &SensitiveDataFilter{config: config}
}

// FilterString masks value when key names a sensitive field. URLs keep their
// structure with only the password replaced.
func (f *SensitiveDataFilter) FilterString(key, value string) string {
	if value == "" {
		return value
	}
	if strings.HasPrefix(value, "http://") || strings.HasPrefix(value, "https://") {
		return f.maskURL(value)
	}
	if f.isSensitiveField(key) {
		return f.config.MaskValue
	}
	return value
}

// FilterValue masks sensitive entries of header and field maps. Other values are
// masked whole when key is sensitive and returned unchanged otherwise.
func (f *SensitiveDataFilter) FilterValue(key string, value any) any {
	switch v := value.(type) {
	case map[string]string:
		out := make(map[string]string, len(v))
		for k, s := range v {
			out[k] = f.FilterString(k, s)
		}
		return out
	case http.Header:
		out := make(map[string][]string, len(v))
		for k, vals := range v {
			if f.isSensitiveField(k) {
				out[k] = []string{f.config.MaskValue}
				continue
			}
			out[k] = vals
		}
		return out
	case map[string]any:
		return f.FilterFields(v)
	}
	if f.isSensitiveField(key) {
		return f.config.MaskValue
	}
	return value
}

// FilterFields filters every entry of a field map.
func (f *SensitiveDataFilter) FilterFields(fields map[string]any) map[string]any {
	filtered := make(map[string]any, len(fields))
	for key, value := range fields {
		if s, ok := value.(string); ok {
			filtered[key] = f.FilterString(key, s)
			continue
		}
		filtered[key] = f.FilterValue(key, value)
	}
	return filtered
}

func (f *SensitiveDataFilter) isSensitiveField(fieldName string) bool {
	lower := strings.ToLower(fieldName)
	for _, sensitive := range f.config.SensitiveFields {
		if strings.Contains(lower, strings.ToLower(sensitive)) {
			return true
		}
	}
	return false
}

func (f *SensitiveDataFilter) maskURL(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return f.config.MaskValue
	}
	if parsed.User == nil {
		return raw
	}
	password, hasPassword := parsed.User.Password()
	if !hasPassword {
		return raw
	}
	return strings.Replace(raw, ":"+password+"@", ":"+f.config.MaskValue+"@", 1)
}
