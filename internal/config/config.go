// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Browser() BrowserConfig
	Portal() PortalConfig
	Table() TableConfig
	Automation() AutomationConfig
	Planner() PlannerConfig
	Artifacts() ArtifactsConfig
	Engine() EngineConfig
	Database() DatabaseConfig
	Records() RecordsConfig
	Units() map[string]UnitConfig

	// Setters used by CLI flag overrides.
	SetBrowserHeadless(bool)
	SetPlannerCap(string)
	SetRecordsFile(string)
}

// Config holds the entire application configuration.
// Fields are exported so viper can unmarshal into them; consumers should prefer the getters.
type Config struct {
	LoggerCfg     LoggerConfig          `mapstructure:"logger" yaml:"logger"`
	BrowserCfg    BrowserConfig         `mapstructure:"browser" yaml:"browser"`
	PortalCfg     PortalConfig          `mapstructure:"portal" yaml:"portal"`
	TableCfg      TableConfig           `mapstructure:"table" yaml:"table"`
	AutomationCfg AutomationConfig      `mapstructure:"automation" yaml:"automation"`
	PlannerCfg    PlannerConfig         `mapstructure:"planner" yaml:"planner"`
	ArtifactsCfg  ArtifactsConfig       `mapstructure:"artifacts" yaml:"artifacts"`
	EngineCfg     EngineConfig          `mapstructure:"engine" yaml:"engine"`
	DatabaseCfg   DatabaseConfig        `mapstructure:"database" yaml:"database"`
	RecordsCfg    RecordsConfig         `mapstructure:"records" yaml:"records"`
	UnitsCfg      map[string]UnitConfig `mapstructure:"units" yaml:"units"`
}

var _ Interface = (*Config)(nil)

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig         { return c.LoggerCfg }
func (c *Config) Browser() BrowserConfig       { return c.BrowserCfg }
func (c *Config) Portal() PortalConfig         { return c.PortalCfg }
func (c *Config) Table() TableConfig           { return c.TableCfg }
func (c *Config) Automation() AutomationConfig { return c.AutomationCfg }
func (c *Config) Planner() PlannerConfig       { return c.PlannerCfg }
func (c *Config) Artifacts() ArtifactsConfig   { return c.ArtifactsCfg }
func (c *Config) Engine() EngineConfig         { return c.EngineCfg }
func (c *Config) Database() DatabaseConfig     { return c.DatabaseCfg }
func (c *Config) Records() RecordsConfig       { return c.RecordsCfg }
func (c *Config) Units() map[string]UnitConfig { return c.UnitsCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetBrowserHeadless(b bool) { c.BrowserCfg.Headless = b }
func (c *Config) SetPlannerCap(s string)    { c.PlannerCfg.Cap = s }
func (c *Config) SetRecordsFile(p string)   { c.RecordsCfg.File = p }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color names for different log levels.
type ColorConfig struct {
	Debug string `mapstructure:"debug" yaml:"debug"`
	Info  string `mapstructure:"info" yaml:"info"`
	Warn  string `mapstructure:"warn" yaml:"warn"`
	Error string `mapstructure:"error" yaml:"error"`
	Fatal string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig holds settings for the controlled Chrome instance.
type BrowserConfig struct {
	Headless   bool           `mapstructure:"headless" yaml:"headless"`
	NoSandbox  bool           `mapstructure:"no_sandbox" yaml:"no_sandbox"`
	DisableGPU bool           `mapstructure:"disable_gpu" yaml:"disable_gpu"`
	ExecPath   string         `mapstructure:"exec_path" yaml:"exec_path"`
	UserAgent  string         `mapstructure:"user_agent" yaml:"user_agent"`
	ProxyURL   string         `mapstructure:"proxy_url" yaml:"proxy_url"`
	Args       []string       `mapstructure:"args" yaml:"args"`
	Viewport   map[string]int `mapstructure:"viewport" yaml:"viewport"`
	// LaunchAttempts is how many consecutive launch failures make the session unavailable.
	LaunchAttempts  int           `mapstructure:"launch_attempts" yaml:"launch_attempts"`
	LaunchTimeout   time.Duration `mapstructure:"launch_timeout" yaml:"launch_timeout"`
	LivenessTimeout time.Duration `mapstructure:"liveness_timeout" yaml:"liveness_timeout"`
	NavTimeout      time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	DownloadDir     string        `mapstructure:"download_dir" yaml:"download_dir"`
}

// PortalConfig describes the target application: where it lives and how its
// login, menus and document actions are located. Every locator list is an
// ordered set of fallback candidates.
type PortalConfig struct {
	BaseURL            string        `mapstructure:"base_url" yaml:"base_url"`
	LoginURLFragment   string        `mapstructure:"login_url_fragment" yaml:"login_url_fragment"`
	LoginTimeout       time.Duration `mapstructure:"login_timeout" yaml:"login_timeout"`
	UsernameField      []string      `mapstructure:"username_field" yaml:"username_field"`
	PasswordField      []string      `mapstructure:"password_field" yaml:"password_field"`
	SubmitButton       []string      `mapstructure:"submit_button" yaml:"submit_button"`
	LoggedInMarker     []string      `mapstructure:"logged_in_marker" yaml:"logged_in_marker"`
	PopupClose         []string      `mapstructure:"popup_close" yaml:"popup_close"`
	ModuleMenu         [][]string    `mapstructure:"module_menu" yaml:"module_menu"`
	ModuleReadyMarker  []string      `mapstructure:"module_ready_marker" yaml:"module_ready_marker"`
	UnitSearchField    []string      `mapstructure:"unit_search_field" yaml:"unit_search_field"`
	UnitSearchOption   []string      `mapstructure:"unit_search_option" yaml:"unit_search_option"`
	UnitSearchPrefix   int           `mapstructure:"unit_search_prefix" yaml:"unit_search_prefix"`
	SearchButton       []string      `mapstructure:"search_button" yaml:"search_button"`
	GenerateButton     []string      `mapstructure:"generate_button" yaml:"generate_button"`
	GenerateTimeout    time.Duration `mapstructure:"generate_timeout" yaml:"generate_timeout"`
	DownloadButton     []string      `mapstructure:"download_button" yaml:"download_button"`
	LogoutButton       []string      `mapstructure:"logout_button" yaml:"logout_button"`
	UnitPause          time.Duration `mapstructure:"unit_pause" yaml:"unit_pause"`
	ClearsSelection    bool          `mapstructure:"generation_clears_selection" yaml:"generation_clears_selection"`
	UseFramesForModule bool          `mapstructure:"use_frames" yaml:"use_frames"`
}

// TableConfig describes the paginated data table and its paginator.
type TableConfig struct {
	Rows             string        `mapstructure:"rows" yaml:"rows"`
	Cells            string        `mapstructure:"cells" yaml:"cells"`
	MinCells         int           `mapstructure:"min_cells" yaml:"min_cells"`
	IDColumn         int           `mapstructure:"id_column" yaml:"id_column"`
	ValueColumn      int           `mapstructure:"value_column" yaml:"value_column"`
	MarkControl      []string      `mapstructure:"mark_control" yaml:"mark_control"`
	SelectedState    string        `mapstructure:"selected_state" yaml:"selected_state"`
	FirstPage        []string      `mapstructure:"first_page" yaml:"first_page"`
	PreviousPage     []string      `mapstructure:"previous_page" yaml:"previous_page"`
	NextPage         []string      `mapstructure:"next_page" yaml:"next_page"`
	PageCeiling      int           `mapstructure:"page_ceiling" yaml:"page_ceiling"`
	ResetMaxPrevious int           `mapstructure:"reset_max_previous" yaml:"reset_max_previous"`
	PageSettle       time.Duration `mapstructure:"page_settle_timeout" yaml:"page_settle_timeout"`
	RecordPause      time.Duration `mapstructure:"record_pause" yaml:"record_pause"`
}

// AutomationConfig tunes the resolver and actuator.
type AutomationConfig struct {
	ElementTimeout    time.Duration `mapstructure:"element_timeout" yaml:"element_timeout"`
	FrameTimeoutRatio float64       `mapstructure:"frame_timeout_ratio" yaml:"frame_timeout_ratio"`
	PollInterval      time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	ActionTimeout     time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
	OverlayTimeout    time.Duration `mapstructure:"overlay_timeout" yaml:"overlay_timeout"`
	PointerSettle     time.Duration `mapstructure:"pointer_settle" yaml:"pointer_settle"`
	Overlays          []string      `mapstructure:"overlays" yaml:"overlays"`
	RetryAttempts     int           `mapstructure:"retry_attempts" yaml:"retry_attempts"`
	RetryBackoff      time.Duration `mapstructure:"retry_backoff" yaml:"retry_backoff"`
	RetryMaxBackoff   time.Duration `mapstructure:"retry_max_backoff" yaml:"retry_max_backoff"`
}

// PlannerConfig holds the batch value cap. The cap is kept as a string so
// monetary precision survives YAML and environment variables.
type PlannerConfig struct {
	Cap string `mapstructure:"cap" yaml:"cap"`
}

// CapDecimal parses the configured cap.
func (p PlannerConfig) CapDecimal() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(p.Cap))
	if err != nil {
		return decimal.Zero, fmt.Errorf("planner.cap %q is not a decimal: %w", p.Cap, err)
	}
	return d, nil
}

// ArtifactsConfig controls how downloaded documents are collected and named.
type ArtifactsConfig struct {
	OutputDir       string        `mapstructure:"output_dir" yaml:"output_dir"`
	Pattern         string        `mapstructure:"pattern" yaml:"pattern"`
	Prefix          string        `mapstructure:"prefix" yaml:"prefix"`
	DownloadTimeout time.Duration `mapstructure:"download_timeout" yaml:"download_timeout"`
	StableFor       time.Duration `mapstructure:"stable_for" yaml:"stable_for"`
	ValidatePDF     bool          `mapstructure:"validate_pdf" yaml:"validate_pdf"`
}

// EngineConfig configures the run dispatcher.
type EngineConfig struct {
	MaxConcurrentRuns int           `mapstructure:"max_concurrent_runs" yaml:"max_concurrent_runs"`
	LockTimeout       time.Duration `mapstructure:"lock_timeout" yaml:"lock_timeout"`
	RunTimeout        time.Duration `mapstructure:"run_timeout" yaml:"run_timeout"`
}

// DatabaseConfig holds the database connection details for the Postgres record source.
type DatabaseConfig struct {
	URL   string `mapstructure:"url" yaml:"url"`
	Table string `mapstructure:"table" yaml:"table"`
}

// RecordsConfig selects the record source.
type RecordsConfig struct {
	// Source is "file" or "postgres".
	Source string `mapstructure:"source" yaml:"source"`
	File   string `mapstructure:"file" yaml:"file"`
}

// UnitConfig holds the per-unit login and search settings.
type UnitConfig struct {
	Username   string `mapstructure:"username" yaml:"username"`
	Password   string `mapstructure:"password" yaml:"-"`
	SearchTerm string `mapstructure:"search_term" yaml:"search_term"`
	Label      string `mapstructure:"label" yaml:"label"`
}

// NewDefaultConfig creates a configuration populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "settle-cli")
	v.SetDefault("logger.log_file", "settle.log")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.no_sandbox", true)
	v.SetDefault("browser.disable_gpu", true)
	v.SetDefault("browser.viewport", map[string]int{"width": 1920, "height": 1080})
	v.SetDefault("browser.launch_attempts", 2)
	v.SetDefault("browser.launch_timeout", "45s")
	v.SetDefault("browser.liveness_timeout", "3s")
	v.SetDefault("browser.navigation_timeout", "60s")
	v.SetDefault("browser.download_dir", "downloads")

	setPortalDefaults(v)
	setTableDefaults(v)

	// -- Automation --
	v.SetDefault("automation.element_timeout", "10s")
	v.SetDefault("automation.frame_timeout_ratio", 0.5)
	v.SetDefault("automation.poll_interval", "200ms")
	v.SetDefault("automation.action_timeout", "8s")
	v.SetDefault("automation.overlay_timeout", "15s")
	v.SetDefault("automation.pointer_settle", "150ms")
	v.SetDefault("automation.overlays", []string{
		"div#MASK.gx-mask",
		".gx-mask",
		".cdk-overlay-backdrop.cdk-overlay-backdrop-showing",
	})
	v.SetDefault("automation.retry_attempts", 3)
	v.SetDefault("automation.retry_backoff", "500ms")
	v.SetDefault("automation.retry_max_backoff", "4s")

	// -- Planner --
	v.SetDefault("planner.cap", "250000.00")

	// -- Artifacts --
	v.SetDefault("artifacts.output_dir", "artifacts")
	v.SetDefault("artifacts.pattern", "*.pdf")
	v.SetDefault("artifacts.prefix", "Boleto")
	v.SetDefault("artifacts.download_timeout", "60s")
	v.SetDefault("artifacts.stable_for", "500ms")
	v.SetDefault("artifacts.validate_pdf", false)

	// -- Engine --
	v.SetDefault("engine.max_concurrent_runs", 2)
	v.SetDefault("engine.lock_timeout", "30s")
	v.SetDefault("engine.run_timeout", "2h")

	// -- Database --
	v.SetDefault("database.table", "settlement_records")

	// -- Records --
	v.SetDefault("records.source", "file")
	v.SetDefault("records.file", "records.yaml")
}

func setPortalDefaults(v *viper.Viper) {
	v.SetDefault("portal.login_url_fragment", "login")
	v.SetDefault("portal.login_timeout", "30s")
	v.SetDefault("portal.username_field", []string{
		"input[formcontrolname='username']",
		"input[name='username']",
		"input[type='text']",
	})
	v.SetDefault("portal.password_field", []string{
		"input[type='password']",
		"input[formcontrolname='password']",
		"input[name='password']",
	})
	v.SetDefault("portal.submit_button", []string{
		"button[type='submit']",
		"xpath=//button[contains(., 'Entrar')]",
		"xpath=//button[contains(., 'Acessar')]",
		"xpath=//button[contains(., 'Login')]",
	})
	v.SetDefault("portal.logged_in_marker", []string{"app-sidebar-nav", "app-sidebar"})
	v.SetDefault("portal.popup_close", []string{
		"button[aria-label*='fechar' i]",
		"xpath=//button[contains(., 'Fechar') or contains(., 'Close')]",
		".mat-dialog-actions button:first-child",
	})
	v.SetDefault("portal.module_menu", [][]string{
		{
			"xpath=//a[@class='nav-link nav-dropdown-toggle' and contains(., 'FIDC')]",
			"xpath=//app-sidebar-nav-dropdown[contains(., 'FIDC')]//a",
			"xpath=//a[contains(., 'Módulo FIDC')]",
		},
		{
			"xpath=//app-sidebar-nav-dropdown[contains(., 'FIDC')]//a[contains(., 'Em Aberto')]",
			"xpath=//app-sidebar-nav-items//a[contains(., 'Em Aberto')]",
			"xpath=//a[contains(., 'Em Aberto') and contains(@class, 'nav-link')]",
		},
	})
	v.SetDefault("portal.module_ready_marker", []string{"table", "mat-paginator"})
	v.SetDefault("portal.unit_search_field", []string{
		"input[placeholder='Revenda']",
		"xpath=//input[contains(@placeholder, 'revenda') or contains(@placeholder, 'Revenda')]",
	})
	v.SetDefault("portal.unit_search_option", []string{"mat-option", ".mat-option"})
	v.SetDefault("portal.unit_search_prefix", 6)
	v.SetDefault("portal.search_button", []string{
		"xpath=//button[contains(., 'Pesquisar')]",
		"xpath=//button[.//span[contains(., 'Pesquisar')]]",
	})
	v.SetDefault("portal.generate_button", []string{
		"xpath=//button[contains(., 'Gerar') and contains(., 'Boleto')]",
		"button[aria-label*='PDF']",
		"button[mattooltip*='PDF']",
		"xpath=//button[.//img[contains(@src, 'pdf')]]",
	})
	v.SetDefault("portal.generate_timeout", "20s")
	v.SetDefault("portal.download_button", []string{
		"xpath=//*[contains(., 'Agrupamentos de Boletos')]//tr[contains(., '{id}')]//button[contains(@mattooltip, 'PDF') or contains(@aria-label, 'PDF')]",
	})
	v.SetDefault("portal.logout_button", []string{"div.pull-right div.logout a", "xpath=//a[contains(., 'Sair')]"})
	v.SetDefault("portal.unit_pause", "2s")
	v.SetDefault("portal.generation_clears_selection", true)
	v.SetDefault("portal.use_frames", true)
}

func setTableDefaults(v *viper.Viper) {
	v.SetDefault("table.rows", "table tbody tr")
	v.SetDefault("table.cells", "td")
	v.SetDefault("table.min_cells", 11)
	v.SetDefault("table.id_column", 3)
	v.SetDefault("table.value_column", 8)
	v.SetDefault("table.mark_control", []string{"button[name^='idNotaFiscal_']", "mat-checkbox", "input[type='checkbox']"})
	v.SetDefault("table.selected_state", ".mat-checkbox-checked, .mat-mdc-checkbox-checked, [aria-pressed='true'], [aria-checked='true'], .selected")
	v.SetDefault("table.first_page", []string{".mat-paginator .mat-paginator-navigation-first", "button.mat-paginator-navigation-first"})
	v.SetDefault("table.previous_page", []string{".mat-paginator .mat-paginator-navigation-previous", "button.mat-paginator-navigation-previous"})
	v.SetDefault("table.next_page", []string{".mat-paginator .mat-paginator-navigation-next", "button.mat-paginator-navigation-next"})
	v.SetDefault("table.page_ceiling", 50)
	v.SetDefault("table.reset_max_previous", 20)
	v.SetDefault("table.page_settle_timeout", "10s")
	v.SetDefault("table.record_pause", "500ms")
}

// NewConfigFromViper unmarshals, expands and validates the configuration held by v.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// expandPaths resolves '~' in every directory and file setting.
func (c *Config) expandPaths() error {
	targets := []*string{
		&c.BrowserCfg.DownloadDir,
		&c.ArtifactsCfg.OutputDir,
		&c.RecordsCfg.File,
		&c.LoggerCfg.LogFile,
	}
	for _, p := range targets {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("failed to expand path %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	capValue, err := c.PlannerCfg.CapDecimal()
	if err != nil {
		return err
	}
	if !capValue.IsPositive() {
		return fmt.Errorf("planner.cap must be positive")
	}
	if c.TableCfg.PageCeiling <= 0 {
		return fmt.Errorf("table.page_ceiling must be a positive integer")
	}
	if c.TableCfg.ResetMaxPrevious < 0 {
		return fmt.Errorf("table.reset_max_previous cannot be negative")
	}
	if c.TableCfg.IDColumn < 0 || c.TableCfg.ValueColumn < 0 {
		return fmt.Errorf("table column indexes cannot be negative")
	}
	if c.BrowserCfg.LaunchAttempts <= 0 {
		return fmt.Errorf("browser.launch_attempts must be a positive integer")
	}
	if c.AutomationCfg.ElementTimeout <= 0 || c.AutomationCfg.ActionTimeout <= 0 {
		return fmt.Errorf("automation timeouts must be positive")
	}
	if c.AutomationCfg.FrameTimeoutRatio <= 0 || c.AutomationCfg.FrameTimeoutRatio > 1 {
		return fmt.Errorf("automation.frame_timeout_ratio must be in (0, 1]")
	}
	if c.EngineCfg.MaxConcurrentRuns <= 0 {
		return fmt.Errorf("engine.max_concurrent_runs must be a positive integer")
	}
	switch c.RecordsCfg.Source {
	case "file":
		if c.RecordsCfg.File == "" {
			return fmt.Errorf("records.file is required when records.source is 'file'")
		}
	case "postgres":
		if c.DatabaseCfg.URL == "" {
			return fmt.Errorf("database.url is required when records.source is 'postgres'")
		}
	default:
		return fmt.Errorf("records.source must be 'file' or 'postgres', got %q", c.RecordsCfg.Source)
	}
	return nil
}
