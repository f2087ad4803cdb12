// Package config loads and validates service configuration.
package config

import (
	"fmt"
	"strings"
)

// ValidateCore ensures critical configuration is present.
func (c *Config) ValidateCore() error {
	var missing []string

	if strings.TrimSpace(c.Database.URL) == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if strings.TrimSpace(c.Redis.URL) == "" {
		missing = append(missing, "REDIS_URL")
	}
	if strings.TrimSpace(c.Server.Port) == "" {
		missing = append(missing, "SERVER_PORT")
	}
	if strings.TrimSpace(c.JWT.Secret) == "" || c.JWT.Secret == "change-this-secret" {
		missing = append(missing, "JWT_SECRET")
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	if !c.Moderation.HighValueThreshold.IsPositive() {
		return fmt.Errorf("MODERATION_HIGH_VALUE_THRESHOLD must be positive")
	}
	if c.Moderation.DefaultPageSize <= 0 || c.Moderation.MaxPageSize < c.Moderation.DefaultPageSize {
		return fmt.Errorf("invalid moderation page sizes: default=%d max=%d",
			c.Moderation.DefaultPageSize, c.Moderation.MaxPageSize)
	}

	return nil
}

// ValidateWorker checks the settings the delivery worker needs.
func (c *Config) ValidateWorker() error {
	var missing []string
	if strings.TrimSpace(c.Database.URL) == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if strings.TrimSpace(c.Redis.URL) == "" {
		missing = append(missing, "REDIS_URL")
	}
	if strings.TrimSpace(c.Email.SMTPFrom) == "" {
		missing = append(missing, "SMTP_FROM")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}
