// =============================================================================
// SRI Receipts - Configuration Module
// =============================================================================
//
// This module is responsible for loading and validating the application
// configuration. Configuration is layered, lowest priority first:
//
//   1. Built-in defaults (setDefaults)
//   2. The YAML configuration file (--config, default config.yaml)
//   3. Environment variables prefixed with SRI_ (SRI_OUTPUT_ROOT_DIR, ...)
//
// The configuration file is optional: a missing file means defaults plus
// environment overrides.
//
// CONFIGURATION SECTIONS:
//   output   : where run folders and reports are written
//   portal   : portal endpoints, form field names, selectors, timeouts
//   download : politeness delays and paging guards
//   log      : log level and format
//
// =============================================================================

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment variable overrides.
const EnvPrefix = "SRI"

// =============================================================================
// CONFIGURATION STRUCTURE
// =============================================================================

// Config holds the complete application configuration.
type Config struct {
	Output   OutputConfig   `mapstructure:"output"`
	Portal   PortalConfig   `mapstructure:"portal"`
	Download DownloadConfig `mapstructure:"download"`
	Log      LogConfig      `mapstructure:"log"`

	// Source is the configuration file that was read, or "" when only
	// defaults and environment variables were used.
	Source string `mapstructure:"-"`
}

// OutputConfig controls the on-disk layout of a run.
type OutputConfig struct {
	// RootDir is the parent of the per-mode directories (issued/, received/).
	// Default: "./downloads"
	RootDir string `mapstructure:"root_dir"`

	// ReportNameFormat is the report file name format.
	// Placeholders:
	//   {ruc}       - Taxpayer identifier
	//   {mode}      - "issued" or "received"
	//   {timestamp} - Run timestamp (YYYYMMDD_HHMMSS)
	//   {uuid}      - The run id
	// Default: "report_{ruc}_{timestamp}.xlsx"
	ReportNameFormat string `mapstructure:"report_name_format"`
}

// PortalConfig describes how to talk to the tax portal.
type PortalConfig struct {
	// BaseURL is the portal origin, e.g. "https://srienlinea.sri.gob.ec".
	BaseURL string `mapstructure:"base_url"`

	// LoginPath is the page hosting the login form.
	LoginPath string `mapstructure:"login_path"`

	// LogoutPath ends the portal session.
	LogoutPath string `mapstructure:"logout_path"`

	// UserAgent is sent with every request.
	UserAgent string `mapstructure:"user_agent"`

	// RequestTimeout bounds every HTTP request, including page loads.
	// Default: 60s
	RequestTimeout time.Duration `mapstructure:"request_timeout"`

	// ChallengeTimeout bounds the wait for a human to solve a challenge.
	// Default: 3m
	ChallengeTimeout time.Duration `mapstructure:"challenge_timeout"`

	// RetryAttempts is the number of retries for network and 5xx failures.
	// Default: 3
	RetryAttempts int `mapstructure:"retry_attempts"`

	// RetryBackoff is the initial retry backoff, doubled per attempt.
	// Default: 1s
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`

	// RetryMaxBackoff caps the retry backoff.
	// Default: 15s
	RetryMaxBackoff time.Duration `mapstructure:"retry_max_backoff"`

	Login    LoginConfig   `mapstructure:"login"`
	Issued   ListingConfig `mapstructure:"issued"`
	Received ListingConfig `mapstructure:"received"`
}

// LoginConfig names the login form and its fields.
type LoginConfig struct {
	FormSelector      string `mapstructure:"form_selector"`
	UserField         string `mapstructure:"user_field"`
	AdditionalIDField string `mapstructure:"additional_id_field"`
	PasswordField     string `mapstructure:"password_field"`
}

// ListingConfig describes one query page (issued or received documents).
type ListingConfig struct {
	// Path is the query page, relative to BaseURL.
	Path string `mapstructure:"path"`

	// FormSelector selects the JSF form holding filters and results.
	FormSelector string `mapstructure:"form_selector"`

	// TableID is the client id of the results table. Row and paginator
	// selectors are derived from it.
	TableID string `mapstructure:"table_id"`

	// SubmitLabel is the visible label of the query button.
	SubmitLabel string `mapstructure:"submit_label"`

	// MessageSelector selects informational messages shown by the portal.
	MessageSelector string `mapstructure:"message_selector"`

	// DownloadColumn is the 1-based table column holding the XML link.
	DownloadColumn int `mapstructure:"download_column"`

	// PageSize is the number of rows the portal shows per page.
	PageSize int `mapstructure:"page_size"`

	// ChallengeSelector detects a manual challenge on the response page.
	// Empty disables challenge detection.
	ChallengeSelector string `mapstructure:"challenge_selector"`

	// ChallengeField is the form field that carries the solved challenge.
	ChallengeField string `mapstructure:"challenge_field"`

	// Fields maps logical filter names to form field names.
	// Issued:   date, status, type, establishment
	// Received: year, month, day
	Fields map[string]string `mapstructure:"fields"`
}

// DownloadConfig controls the download loop.
type DownloadConfig struct {
	// RowDelay is the pause after each downloaded document.
	// Default: 500ms
	RowDelay time.Duration `mapstructure:"row_delay"`

	// PageDelay is the pause after each page change.
	// Default: 1s
	PageDelay time.Duration `mapstructure:"page_delay"`

	// MaxPages stops pagination after this many pages.
	// Default: 500
	MaxPages int `mapstructure:"max_pages"`
}

// LogConfig controls logging.
type LogConfig struct {
	// Level: "debug", "info", "warn", "error". Default: "info"
	Level string `mapstructure:"level"`

	// Format: "console" or "json". Default: "console"
	Format string `mapstructure:"format"`
}

// =============================================================================
// CONFIGURATION LOADING
// =============================================================================

// Load reads the configuration file at configPath (if it exists), applies
// environment overrides and defaults, and validates the result.
//
// PARAMETERS:
//   - configPath: Path to a YAML configuration file. May be empty or missing.
//
// RETURNS:
//   - The loaded configuration.
//   - An error if the file exists but cannot be parsed, or validation fails.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	source := ""
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			v.SetConfigFile(configPath)
			v.SetConfigType("yaml")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			source = configPath
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.Source = source

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Default returns the built-in configuration without reading any file or
// environment variable.
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	// Defaults are static; a decode failure here is a programming error.
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("config: invalid defaults: %v", err))
	}
	return &cfg
}

// setDefaults registers every key with its default value. Registering all
// keys also makes them visible to AutomaticEnv during Unmarshal.
func setDefaults(v *viper.Viper) {
	// Output.
	v.SetDefault("output.root_dir", "./downloads")
	v.SetDefault("output.report_name_format", "report_{ruc}_{timestamp}.xlsx")

	// Portal.
	v.SetDefault("portal.base_url", "https://srienlinea.sri.gob.ec")
	v.SetDefault("portal.login_path", "/auth/realms/Internet/protocol/openid-connect/auth?client_id=app-sri-claves-angular&response_type=code&redirect_uri=https://srienlinea.sri.gob.ec/sri-en-linea/contribuyente/perfil")
	v.SetDefault("portal.logout_path", "/sri-en-linea/salir")
	v.SetDefault("portal.user_agent", "Mozilla/5.0 (X11; Linux x86_64) sri-receipts")
	v.SetDefault("portal.request_timeout", 60*time.Second)
	v.SetDefault("portal.challenge_timeout", 3*time.Minute)
	v.SetDefault("portal.retry_attempts", 3)
	v.SetDefault("portal.retry_backoff", time.Second)
	v.SetDefault("portal.retry_max_backoff", 15*time.Second)

	v.SetDefault("portal.login.form_selector", "form#kc-form-login")
	v.SetDefault("portal.login.user_field", "usuario")
	v.SetDefault("portal.login.additional_id_field", "ciAdicional")
	v.SetDefault("portal.login.password_field", "password")

	v.SetDefault("portal.issued.path", "/comprobantes-electronicos-internet/pages/consultas/emitidos/comprobantesEmitidos.jsf")
	v.SetDefault("portal.issued.form_selector", "form#frmPrincipal")
	v.SetDefault("portal.issued.table_id", "frmPrincipal:tablaCompEmitidos")
	v.SetDefault("portal.issued.submit_label", "Consultar")
	v.SetDefault("portal.issued.message_selector", "[id='formMessages:messages'] div")
	v.SetDefault("portal.issued.download_column", 10)
	v.SetDefault("portal.issued.page_size", 50)
	v.SetDefault("portal.issued.challenge_selector", "")
	v.SetDefault("portal.issued.challenge_field", "g-recaptcha-response")
	v.SetDefault("portal.issued.fields", map[string]string{
		"date":          "frmPrincipal:calendarFechaDesde_input",
		"status":        "frmPrincipal:cmbEstadoAutorizacion",
		"type":          "frmPrincipal:cmbTipoComprobante",
		"establishment": "frmPrincipal:cmbEstablecimiento",
	})

	v.SetDefault("portal.received.path", "/comprobantes-electronicos-internet/pages/consultas/recibidos/comprobantesRecibidos.jsf")
	v.SetDefault("portal.received.form_selector", "form#frmPrincipal")
	v.SetDefault("portal.received.table_id", "frmPrincipal:tablaCompRecibidos")
	v.SetDefault("portal.received.submit_label", "Consultar")
	v.SetDefault("portal.received.message_selector", "[id='formMessages:messages'] div")
	v.SetDefault("portal.received.download_column", 10)
	v.SetDefault("portal.received.page_size", 50)
	v.SetDefault("portal.received.challenge_selector", ".g-recaptcha")
	v.SetDefault("portal.received.challenge_field", "g-recaptcha-response")
	v.SetDefault("portal.received.fields", map[string]string{
		"year":  "frmPrincipal:ano",
		"month": "frmPrincipal:mes",
		"day":   "frmPrincipal:dia",
	})

	// Download loop.
	v.SetDefault("download.row_delay", 500*time.Millisecond)
	v.SetDefault("download.page_delay", time.Second)
	v.SetDefault("download.max_pages", 500)

	// Logging.
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// =============================================================================
// VALIDATION
// =============================================================================

// Validate checks the configuration for values that would make a run fail
// later in a less obvious way.
func (c *Config) Validate() error {
	if c.Output.RootDir == "" {
		return errors.New("output.root_dir must not be empty")
	}
	if c.Output.ReportNameFormat == "" {
		return errors.New("output.report_name_format must not be empty")
	}

	u, err := url.Parse(c.Portal.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("portal.base_url %q is not an absolute URL", c.Portal.BaseURL)
	}

	if c.Portal.RequestTimeout <= 0 {
		return errors.New("portal.request_timeout must be positive")
	}
	if c.Portal.ChallengeTimeout <= 0 {
		return errors.New("portal.challenge_timeout must be positive")
	}
	if c.Portal.RetryAttempts < 0 {
		return errors.New("portal.retry_attempts must not be negative")
	}
	if c.Download.MaxPages <= 0 {
		return errors.New("download.max_pages must be positive")
	}

	for name, listing := range map[string]ListingConfig{
		"issued":   c.Portal.Issued,
		"received": c.Portal.Received,
	} {
		if listing.Path == "" || listing.FormSelector == "" || listing.TableID == "" {
			return fmt.Errorf("portal.%s: path, form_selector and table_id are required", name)
		}
		if listing.DownloadColumn <= 0 {
			return fmt.Errorf("portal.%s.download_column must be positive", name)
		}
	}

	return nil
}

// EnsureOutputRoot creates the output root directory if it doesn't exist.
func (c *Config) EnsureOutputRoot() error {
	if err := os.MkdirAll(c.Output.RootDir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", c.Output.RootDir, err)
	}
	return nil
}
