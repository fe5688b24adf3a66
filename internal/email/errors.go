package email

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNotConfigured is returned when no EmailJS identifiers are available.
var ErrNotConfigured = errors.New("EmailJS not configured. Please set up EmailJS credentials in settings")

// ConfigError lists every problem found in the EmailJS configuration.
type ConfigError struct {
	Problems []string
}

func (e *ConfigError) Error() string {
	return "Configuration validation failed: " + strings.Join(e.Problems, ", ")
}

// APIError is a non-2xx answer from the EmailJS relay.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("EmailJS API error: %d", e.StatusCode)

	var detail struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal([]byte(e.Body), &detail); err != nil {
		if e.Body != "" {
			msg += " - " + e.Body
		}
		return msg
	}
	if detail.Message != "" {
		msg += " - " + detail.Message
	}
	if detail.Error != "" {
		msg += " - " + detail.Error
	}
	return msg
}

// IsConfigError reports whether err is fixable by editing the configuration.
func IsConfigError(err error) bool {
	var cfgErr *ConfigError
	return errors.Is(err, ErrNotConfigured) || errors.As(err, &cfgErr)
}
