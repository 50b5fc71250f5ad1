package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const retryWaitField = "dispatcher.retry.wait"

func TestConfigErrorError(t *testing.T) {
	tests := []struct {
		name     string
		err      *ConfigError
		expected string
	}{
		{
			name: "complete error with all fields",
			err: &ConfigError{
				Category: "invalid",
				Field:    retryWaitField,
				Message:  "must be at least 1",
				Action:   "set DISPATCH_DISPATCHER_RETRY_WAIT",
				Details:  []string{"detail1", "detail2"},
			},
			expected: "config_invalid: dispatcher.retry.wait must be at least 1 set DISPATCH_DISPATCHER_RETRY_WAIT detail1; detail2",
		},
		{
			name: "error without category",
			err: &ConfigError{
				Field:   "dispatcher.url",
				Message: "required",
			},
			expected: "dispatcher.url required",
		},
		{
			name:     "empty error",
			err:      &ConfigError{},
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestNewMissingFieldError(t *testing.T) {
	err := NewMissingFieldError("dispatcher.url")
	assert.Equal(t, "missing", err.Category)
	assert.Equal(t, "config_missing: dispatcher.url required set DISPATCH_DISPATCHER_URL env var or add dispatcher.url to dispatch.yaml", err.Error())
}

func TestNewInvalidFieldError(t *testing.T) {
	err := NewInvalidFieldError("log.level", "invalid value loud", []string{"debug", "info"})
	assert.Equal(t, "config_invalid: log.level invalid value loud must be one of: debug, info", err.Error())

	err = NewInvalidFieldError("log.level", "bad", nil)
	assert.Empty(t, err.Action)
}

func TestEnvVar(t *testing.T) {
	assert.Equal(t, "DISPATCH_TRANSPORT_MAXPAYLOADLOGBYTES", EnvVar("transport.maxpayloadlogbytes"))
	assert.Equal(t, "DISPATCH_LOG_LEVEL", EnvVar("log.level"))
}
