package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/JonMunkholm/sukl/internal/core"
)

// Load reads the full server configuration from the environment, applies
// tag defaults and validates every section.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := populate(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// Offline is the configuration for commands that never open the database.
type Offline struct {
	Import      ImportConfig
	Eligibility EligibilityConfig
	Logging     LoggingConfig
}

// FirstReferencePeriod returns the parsed eligibility bootstrap period.
func (o *Offline) FirstReferencePeriod() core.Period {
	p, _ := core.ParsePeriod(o.Eligibility.FirstReferencePeriod)
	return p
}

// LoadOffline reads the import, eligibility and logging sections so
// DATABASE_URL stays optional.
func LoadOffline() (*Offline, error) {
	o := &Offline{}
	if err := populate(o); err != nil {
		return nil, err
	}
	errs := collect(o.Import.validate, o.Eligibility.validate, o.Logging.validate)
	if len(errs) > 0 {
		return nil, fmt.Errorf("config validation: %s", strings.Join(errs, "; "))
	}
	return o, nil
}

func populate(target any) error {
	if err := loadStruct(reflect.ValueOf(target).Elem()); err != nil {
		return fmt.Errorf("config load: %w", err)
	}
	return nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// loadStruct walks nested sections and fills every field that carries an
// env tag. envAlt is consulted when the primary variable is empty.
func loadStruct(v reflect.Value) error {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field, dst := t.Field(i), v.Field(i)
		if !dst.CanSet() {
			continue
		}
		if field.Type.Kind() == reflect.Struct {
			if err := loadStruct(dst); err != nil {
				return err
			}
			continue
		}

		name := field.Tag.Get("env")
		if name == "" {
			continue
		}
		raw := lookupEnv(name, field.Tag.Get("envAlt"))
		if raw == "" {
			if field.Tag.Get("required") == "true" {
				return fmt.Errorf("required environment variable %s is not set", name)
			}
			raw = field.Tag.Get("default")
		}
		if raw == "" {
			continue
		}
		if err := decodeInto(dst, raw); err != nil {
			return fmt.Errorf("invalid value for %s=%q: %w", name, raw, err)
		}
	}
	return nil
}

func lookupEnv(names ...string) string {
	for _, n := range names {
		if n == "" {
			continue
		}
		if v := os.Getenv(n); v != "" {
			return v
		}
	}
	return ""
}

// decodeInto parses raw according to the destination kind. Durations use
// time.ParseDuration; string slices are comma separated with blanks dropped.
func decodeInto(dst reflect.Value, raw string) error {
	if dst.Type() == durationType {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid duration: %w", err)
		}
		dst.SetInt(int64(d))
		return nil
	}

	switch dst.Kind() {
	case reflect.String:
		dst.SetString(raw)
	case reflect.Int, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid integer: %w", err)
		}
		dst.SetInt(n)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		dst.SetBool(b)
	case reflect.Slice:
		if dst.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type: %s", dst.Type().Elem().Kind())
		}
		var items []string
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				items = append(items, part)
			}
		}
		dst.Set(reflect.ValueOf(items))
	default:
		return fmt.Errorf("unsupported field type: %s", dst.Kind())
	}
	return nil
}

func collect(checks ...func() []string) []string {
	var errs []string
	for _, check := range checks {
		errs = append(errs, check()...)
	}
	return errs
}

// Validate checks every section and reports all problems at once.
func (c *Config) Validate() error {
	errs := collect(
		c.Server.validate,
		c.Database.validate,
		c.Import.validate,
		c.Eligibility.validate,
		c.Schedule.validate,
		c.Rate.validate,
		c.Security.validate,
		c.Logging.validate,
	)
	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (c ServerConfig) validate() []string {
	var errs []string
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT (%d) must be 1-65535", c.Port))
	}
	if c.ReadTimeout < 0 {
		errs = append(errs, "SERVER_READ_TIMEOUT must be non-negative")
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, "SERVER_SHUTDOWN_TIMEOUT must be positive")
	}
	return errs
}

func (c DatabaseConfig) validate() []string {
	var errs []string
	if c.URL == "" {
		errs = append(errs, "DATABASE_URL is required")
	}
	switch {
	case c.MaxConns <= 0:
		errs = append(errs, "DB_MAX_CONNS must be positive")
	case c.MaxConns < c.MinConns:
		errs = append(errs, fmt.Sprintf("DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)", c.MaxConns, c.MinConns))
	}
	if c.MinConns < 0 {
		errs = append(errs, "DB_MIN_CONNS must be non-negative")
	}
	return errs
}

func (c ImportConfig) validate() []string {
	var errs []string
	if !core.ValidCharset(c.Charset) {
		errs = append(errs, fmt.Sprintf("IMPORT_CHARSET (%q) is not a known charset", c.Charset))
	}
	if utf8.RuneCountInString(c.Delimiter) != 1 {
		errs = append(errs, fmt.Sprintf("IMPORT_DELIMITER (%q) must be a single character", c.Delimiter))
	}
	positive := []struct {
		name string
		ok   bool
	}{
		{"IMPORT_MAX_FILE_SIZE", c.MaxFileSize > 0},
		{"IMPORT_MAX_CONCURRENT", c.MaxConcurrent > 0},
		{"IMPORT_MAX_WAIT_TIME", c.MaxWaitTime > 0},
		{"IMPORT_TIMEOUT", c.Timeout > 0},
		{"IMPORT_FETCH_TIMEOUT", c.FetchTimeout > 0},
	}
	for _, p := range positive {
		if !p.ok {
			errs = append(errs, p.name+" must be positive")
		}
	}
	return errs
}

// validate checks that the bootstrap period names a month.
func (c EligibilityConfig) validate() []string {
	p, err := core.ParsePeriod(c.FirstReferencePeriod)
	if err != nil {
		return []string{fmt.Sprintf("ELIGIBILITY_FIRST_REFERENCE_PERIOD: %v", err)}
	}
	if p.IsYearly() {
		return []string{"ELIGIBILITY_FIRST_REFERENCE_PERIOD must name a month (YYYY-MM)"}
	}
	return nil
}

func (c ScheduleConfig) validate() []string {
	if c.Enabled() && c.Interval <= 0 {
		return []string{"SCHEDULE_INTERVAL must be positive when SCHEDULE_MANIFEST is set"}
	}
	return nil
}

func (c RateLimitConfig) validate() []string {
	if c.Enabled && c.RequestsPerMinute <= 0 {
		return []string{"RATE_LIMIT_REQUESTS_PER_MINUTE must be positive when rate limiting is enabled"}
	}
	return nil
}

func (c SecurityConfig) validate() []string {
	if c.RequireAPIKey && len(c.APIKeys) == 0 {
		return []string{"SECURITY_API_KEYS must be set when SECURITY_REQUIRE_API_KEY is true"}
	}
	return nil
}

func (c LoggingConfig) validate() []string {
	var errs []string
	switch strings.ToLower(c.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Level))
	}
	switch strings.ToLower(c.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Sprintf("LOG_FORMAT (%q) must be one of: text, json", c.Format))
	}
	return errs
}

// FirstReferencePeriod returns the parsed eligibility bootstrap period.
// Only valid after Validate succeeded.
func (c *Config) FirstReferencePeriod() core.Period {
	p, _ := core.ParsePeriod(c.Eligibility.FirstReferencePeriod)
	return p
}

// String renders the configuration for logs with the database URL masked.
func (c *Config) String() string {
	parts := []string{
		fmt.Sprintf("Server: {Host: %q, Port: %d}", c.Server.Host, c.Server.Port),
		fmt.Sprintf("Database: {URL: [MASKED], MaxConns: %d, MinConns: %d}", c.Database.MaxConns, c.Database.MinConns),
		fmt.Sprintf("Import: {Charset: %q, Delimiter: %q, MaxConcurrent: %d}", c.Import.Charset, c.Import.Delimiter, c.Import.MaxConcurrent),
		fmt.Sprintf("Eligibility: {FirstReferencePeriod: %q}", c.Eligibility.FirstReferencePeriod),
		fmt.Sprintf("Schedule: {Manifest: %q, Interval: %s}", c.Schedule.Manifest, c.Schedule.Interval),
		fmt.Sprintf("Rate: {Enabled: %v, RequestsPerMinute: %d}", c.Rate.Enabled, c.Rate.RequestsPerMinute),
		fmt.Sprintf("Security: {RequireAPIKey: %v, APIKeys: %d configured}", c.Security.RequireAPIKey, len(c.Security.APIKeys)),
		fmt.Sprintf("Logging: {Level: %q, Format: %q}", c.Logging.Level, c.Logging.Format),
	}
	return "Config{" + strings.Join(parts, ", ") + "}"
}
