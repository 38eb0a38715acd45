// Package config loads registrar settings from YAML.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"gopkg.in/yaml.v3"
)

// Duration reads Go duration strings such as "30m" or "24h".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Settings is the file layout. It implements registrar.Config.
type Settings struct {
	Tokens struct {
		VerificationTTL Duration `yaml:"verification_ttl"`
		ResetTTL        Duration `yaml:"reset_ttl"`
	} `yaml:"tokens"`

	Clearance struct {
		RequireForWithdrawal bool     `yaml:"require_for_withdrawal"`
		Departments          []string `yaml:"departments"`
	} `yaml:"clearance"`

	Notifications struct {
		BufferSize int `yaml:"buffer_size"`
	} `yaml:"notifications"`

	Database struct {
		DSN string `yaml:"dsn"`
	} `yaml:"database"`

	Redis struct {
		Addr        string   `yaml:"addr"`
		MaxAttempts int      `yaml:"max_attempts"`
		Window      Duration `yaml:"window"`
	} `yaml:"redis"`

	Logging struct {
		Level  string `yaml:"level"`
		Pretty bool   `yaml:"pretty"`
	} `yaml:"logging"`
}

// Default returns the built-in settings.
func Default() *Settings {
	s := &Settings{}
	s.Tokens.VerificationTTL = Duration(24 * time.Hour)
	s.Tokens.ResetTTL = Duration(30 * time.Minute)
	s.Notifications.BufferSize = 64
	s.Database.DSN = "file:registrar.db?cache=shared"
	s.Redis.MaxAttempts = 5
	s.Redis.Window = Duration(15 * time.Minute)
	s.Logging.Level = "info"
	return s
}

// Load reads path over the defaults. A missing file yields the defaults.
// REGISTRAR_DSN, REGISTRAR_REDIS_ADDR and REGISTRAR_LOG_LEVEL override the file.
func Load(path string) (*Settings, error) {
	s := Default()

	if path != "" {
		content, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := Parse(content, s); err != nil {
				return nil, err
			}
		case os.IsNotExist(err):
		default:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	s.applyEnv(os.Getenv)

	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return s, nil
}

// Parse decodes YAML content into s. Keys absent from content keep the
// values already in s.
func Parse(content []byte, s *Settings) error {
	if err := yaml.Unmarshal(content, s); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

func (s *Settings) applyEnv(getenv func(string) string) {
	if v := strings.TrimSpace(getenv("REGISTRAR_DSN")); v != "" {
		s.Database.DSN = v
	}
	if v := strings.TrimSpace(getenv("REGISTRAR_REDIS_ADDR")); v != "" {
		s.Redis.Addr = v
	}
	if v := strings.TrimSpace(getenv("REGISTRAR_LOG_LEVEL")); v != "" {
		s.Logging.Level = v
	}
}

// Validate implements validation.Validatable.
func (s *Settings) Validate() error {
	return validation.Errors{
		"tokens.verification_ttl": validation.Validate(int64(s.Tokens.VerificationTTL), validation.Required, validation.Min(int64(time.Minute))),
		"tokens.reset_ttl":        validation.Validate(int64(s.Tokens.ResetTTL), validation.Required, validation.Min(int64(time.Minute))),
		"notifications.buffer_size": validation.Validate(s.Notifications.BufferSize,
			validation.Required, validation.Min(1)),
		"database.dsn": validation.Validate(s.Database.DSN, validation.Required),
		"logging.level": validation.Validate(strings.ToLower(s.Logging.Level),
			validation.In("debug", "info", "warn", "warning", "error")),
	}.Filter()
}

func (s *Settings) GetVerificationTokenTTL() time.Duration {
	return time.Duration(s.Tokens.VerificationTTL)
}

func (s *Settings) GetResetTokenTTL() time.Duration {
	return time.Duration(s.Tokens.ResetTTL)
}

func (s *Settings) GetRequireClearanceForWithdrawal() bool {
	return s.Clearance.RequireForWithdrawal
}

func (s *Settings) GetClearanceDepartments() []string {
	return append([]string(nil), s.Clearance.Departments...)
}

func (s *Settings) GetNotificationBufferSize() int {
	return s.Notifications.BufferSize
}
