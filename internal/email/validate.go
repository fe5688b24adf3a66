package email

import (
	"regexp"
	"strings"

	"github.com/goodtune/kidswatch/internal/storage"
)

const minPublicKeyLength = 10

var (
	serviceIDPattern  = regexp.MustCompile(`^service_[a-zA-Z0-9]+$`)
	templateIDPattern = regexp.MustCompile(`^template_[a-zA-Z0-9]+$`)
)

// ValidateConfig checks cfg and returns a *ConfigError naming every
// problem, or nil when the configuration looks usable.
func ValidateConfig(cfg *storage.EmailConfig) error {
	if cfg == nil {
		return &ConfigError{Problems: []string{"No EmailJS configuration found"}}
	}

	var problems []string

	if strings.TrimSpace(cfg.ServiceID) == "" {
		problems = append(problems, "Service ID is missing or empty")
	}
	if strings.TrimSpace(cfg.TemplateID) == "" {
		problems = append(problems, "Template ID is missing or empty")
	}
	if strings.TrimSpace(cfg.PublicKey) == "" {
		problems = append(problems, "Public Key is missing or empty")
	}

	if cfg.ServiceID != "" && !serviceIDPattern.MatchString(cfg.ServiceID) {
		problems = append(problems, `Service ID format appears incorrect (should start with "service_")`)
	}
	if cfg.TemplateID != "" && !templateIDPattern.MatchString(cfg.TemplateID) {
		problems = append(problems, `Template ID format appears incorrect (should start with "template_")`)
	}
	if cfg.PublicKey != "" && len(cfg.PublicKey) < minPublicKeyLength {
		problems = append(problems, "Public Key appears too short")
	}

	if len(problems) > 0 {
		return &ConfigError{Problems: problems}
	}
	return nil
}

func complete(cfg storage.EmailConfig) bool {
	return cfg.ServiceID != "" && cfg.TemplateID != "" && cfg.PublicKey != ""
}
