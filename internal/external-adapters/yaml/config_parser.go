// Package yaml provides YAML-based configuration parsing.
package yaml

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ochairo/geiger/internal/domain/entities"
	"gopkg.in/yaml.v3"
)

// yamlConfig represents the raw YAML structure
type yamlConfig struct {
	Home           string         `yaml:"home"`
	CacheDir       string         `yaml:"cache_dir"`
	ReportsDir     string         `yaml:"reports_dir"`
	Threads        int            `yaml:"threads"`
	AllowDegraded  bool           `yaml:"allow_degraded"`
	PrepareTimeout string         `yaml:"prepare_timeout"`
	Engines        []yamlEngine   `yaml:"engines"`
	Decompiler     yamlDecompiler `yaml:"decompiler"`
	Templates      yamlTemplates  `yaml:"templates"`
	Nuclei         yamlNuclei     `yaml:"nuclei"`
	Reavs          yamlReavs      `yaml:"reavs"`
	Mirror         yamlMirror     `yaml:"mirror"`
}

type yamlEngine struct {
	ID                string            `yaml:"id"`
	Enabled           *bool             `yaml:"enabled"`
	Timeout           string            `yaml:"timeout"`
	Targets           []string          `yaml:"targets"`
	SeverityOverrides map[string]string `yaml:"severity_overrides"`
	Categories        map[string]string `yaml:"categories"`
}

type yamlDecompiler struct {
	Apktool        string `yaml:"apktool"`
	Jadx           string `yaml:"jadx"`
	ApktoolTimeout string `yaml:"apktool_timeout"`
	JadxTimeout    string `yaml:"jadx_timeout"`
	JadxThreads    int    `yaml:"jadx_threads"`
}

type yamlTemplates struct {
	Dir          string `yaml:"dir"`
	RepoURL      string `yaml:"repo_url"`
	Update       *bool  `yaml:"update"`
	BundleURL    string `yaml:"bundle_url"`
	SignatureURL string `yaml:"signature_url"`
	Keyring      string `yaml:"keyring"`
}

type yamlNuclei struct {
	Binary      string `yaml:"binary"`
	InstallDir  string `yaml:"install_dir"`
	AutoInstall *bool  `yaml:"auto_install"`
	Concurrency int    `yaml:"concurrency"`
}

type yamlReavs struct {
	Dir       string `yaml:"dir"`
	RepoURL   string `yaml:"repo_url"`
	Python    string `yaml:"python"`
	AutoSetup *bool  `yaml:"auto_setup"`
	Deep      *bool  `yaml:"deep"`
	Depth     int    `yaml:"depth"`
}

type yamlMirror struct {
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    *bool  `yaml:"use_ssl"`
}

// Default values
const (
	DefaultThreads        = 4
	DefaultEngineTimeout  = 30 * time.Minute
	DefaultPrepareTimeout = 20 * time.Minute
	DefaultApktoolTimeout = 15 * time.Minute
	DefaultJadxTimeout    = 30 * time.Minute
	DefaultReavsDepth     = 3
)

// ConfigParser parses YAML configuration files
type ConfigParser struct {
	home string
}

// NewConfigParser creates a new YAML parser. home is the default GEIGER_HOME.
func NewConfigParser(home string) *ConfigParser {
	return &ConfigParser{home: home}
}

// Parse parses YAML bytes into a Config, applies defaults and validates.
// Every validation problem is reported at once.
func (p *ConfigParser) Parse(data []byte) (*entities.Config, error) {
	return p.parse(data, nil)
}

// parse decodes data, lets lookup override raw values, then converts
func (p *ConfigParser) parse(data []byte, lookup func(string) (string, bool)) (*entities.Config, error) {
	var raw yamlConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	var errs []error
	if lookup != nil {
		applyEnv(&raw, lookup, &errs)
	}
	cfg := p.convert(raw, &errs)
	errs = append(errs, Validate(cfg))

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (p *ConfigParser) convert(raw yamlConfig, errs *[]error) *entities.Config {
	home := expandHome(firstNonEmpty(raw.Home, p.home))

	cfg := &entities.Config{
		Home:           home,
		CacheDir:       expandHome(firstNonEmpty(raw.CacheDir, filepath.Join(home, "cache"))),
		ReportsDir:     expandHome(firstNonEmpty(raw.ReportsDir, filepath.Join(home, "reports"))),
		Threads:        raw.Threads,
		AllowDegraded:  raw.AllowDegraded,
		PrepareTimeout: parseDuration("prepare_timeout", raw.PrepareTimeout, DefaultPrepareTimeout, errs),
		Decompiler:     convertDecompiler(raw.Decompiler, errs),
		Templates:      convertTemplates(raw.Templates, home),
		Nuclei:         convertNuclei(raw.Nuclei, home),
		Reavs:          convertReavs(raw.Reavs, home),
		Mirror:         convertMirror(raw.Mirror),
	}
	if cfg.Threads == 0 {
		cfg.Threads = DefaultThreads
	}

	engines := raw.Engines
	if len(engines) == 0 {
		engines = []yamlEngine{{ID: string(entities.EngineNuclei)}, {ID: string(entities.EngineReavs)}}
	}
	for _, e := range engines {
		cfg.Engines = append(cfg.Engines, convertEngine(e, errs))
	}
	return cfg
}

func convertEngine(ye yamlEngine, errs *[]error) entities.EngineConfig {
	id := entities.EngineID(strings.ToLower(strings.TrimSpace(ye.ID)))
	ec := entities.EngineConfig{
		ID:         id,
		Enabled:    boolOr(ye.Enabled, true),
		Timeout:    parseDuration(fmt.Sprintf("engines.%s.timeout", id), ye.Timeout, DefaultEngineTimeout, errs),
		Categories: ye.Categories,
	}

	for _, t := range ye.Targets {
		ec.Targets = append(ec.Targets, entities.TreeKind(strings.ToLower(strings.TrimSpace(t))))
	}
	if len(ec.Targets) == 0 && id == entities.EngineNuclei {
		ec.Targets = []entities.TreeKind{entities.TreeBytecode}
	}

	if len(ye.SeverityOverrides) > 0 {
		ec.SeverityOverrides = make(map[string]entities.Severity, len(ye.SeverityOverrides))
		for native, canonical := range ye.SeverityOverrides {
			sev, ok := entities.ParseSeverity(canonical)
			if !ok {
				*errs = append(*errs, fmt.Errorf("engines.%s.severity_overrides.%s: %q is not a canonical severity", id, native, canonical))
				continue
			}
			ec.SeverityOverrides[native] = sev
		}
	}
	return ec
}

func convertDecompiler(yd yamlDecompiler, errs *[]error) entities.DecompilerConfig {
	return entities.DecompilerConfig{
		Apktool:        firstNonEmpty(yd.Apktool, "apktool"),
		Jadx:           firstNonEmpty(yd.Jadx, "jadx"),
		ApktoolTimeout: parseDuration("decompiler.apktool_timeout", yd.ApktoolTimeout, DefaultApktoolTimeout, errs),
		JadxTimeout:    parseDuration("decompiler.jadx_timeout", yd.JadxTimeout, DefaultJadxTimeout, errs),
		JadxThreads:    yd.JadxThreads,
	}
}

func convertTemplates(yt yamlTemplates, home string) entities.TemplateConfig {
	return entities.TemplateConfig{
		Dir:          expandHome(firstNonEmpty(yt.Dir, filepath.Join(home, "mobile-nuclei-templates"))),
		RepoURL:      yt.RepoURL,
		Update:       boolOr(yt.Update, true),
		BundleURL:    yt.BundleURL,
		SignatureURL: yt.SignatureURL,
		KeyringPath:  expandHome(yt.Keyring),
	}
}

func convertNuclei(yn yamlNuclei, home string) entities.NucleiConfig {
	return entities.NucleiConfig{
		Binary:      expandHome(yn.Binary),
		InstallDir:  expandHome(firstNonEmpty(yn.InstallDir, filepath.Join(home, "bin"))),
		AutoInstall: boolOr(yn.AutoInstall, true),
		Concurrency: yn.Concurrency,
	}
}

func convertReavs(yr yamlReavs, home string) entities.ReavsConfig {
	depth := yr.Depth
	if depth == 0 {
		depth = DefaultReavsDepth
	}
	return entities.ReavsConfig{
		Dir:       expandHome(firstNonEmpty(yr.Dir, filepath.Join(home, "reAVS"))),
		RepoURL:   yr.RepoURL,
		Python:    expandHome(yr.Python),
		AutoSetup: boolOr(yr.AutoSetup, true),
		Deep:      boolOr(yr.Deep, true),
		Depth:     depth,
	}
}

func convertMirror(ym yamlMirror) entities.MirrorConfig {
	return entities.MirrorConfig{
		Enabled:   ym.Enabled,
		Endpoint:  ym.Endpoint,
		Region:    ym.Region,
		AccessKey: ym.AccessKey,
		SecretKey: ym.SecretKey,
		Bucket:    ym.Bucket,
		UseSSL:    boolOr(ym.UseSSL, true),
	}
}

// Validate checks a fully resolved config and joins every problem found
func Validate(cfg *entities.Config) error {
	var errs []error

	if cfg.Threads < 1 {
		errs = append(errs, fmt.Errorf("threads must be at least 1, got %d", cfg.Threads))
	}
	if cfg.PrepareTimeout <= 0 {
		errs = append(errs, fmt.Errorf("prepare_timeout must be positive, got %v", cfg.PrepareTimeout))
	}
	if cfg.CacheDir == "" || cfg.ReportsDir == "" {
		errs = append(errs, fmt.Errorf("cache_dir and reports_dir must be set"))
	}

	seen := make(map[entities.EngineID]bool, len(cfg.Engines))
	enabled := 0
	for _, e := range cfg.Engines {
		switch e.ID {
		case entities.EngineNuclei, entities.EngineReavs:
		default:
			errs = append(errs, fmt.Errorf("engines: unknown engine %q", e.ID))
		}
		if seen[e.ID] {
			errs = append(errs, fmt.Errorf("engines: %q declared twice", e.ID))
		}
		seen[e.ID] = true
		if e.Enabled {
			enabled++
		}
		if e.Timeout < 0 {
			errs = append(errs, fmt.Errorf("engines.%s.timeout must not be negative", e.ID))
		}
		for _, t := range e.Targets {
			if t != entities.TreeBytecode && t != entities.TreeSource {
				errs = append(errs, fmt.Errorf("engines.%s.targets: unknown tree %q", e.ID, t))
			}
		}
	}
	if enabled == 0 {
		errs = append(errs, fmt.Errorf("engines: at least one engine must be enabled"))
	}

	if cfg.Nuclei.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("nuclei.concurrency must not be negative"))
	}
	if cfg.Reavs.Depth < 0 {
		errs = append(errs, fmt.Errorf("reavs.depth must not be negative"))
	}
	if cfg.Templates.BundleURL != "" && cfg.Templates.SignatureURL == "" {
		errs = append(errs, fmt.Errorf("templates.signature_url is required with templates.bundle_url"))
	}
	if cfg.Templates.BundleURL != "" && cfg.Templates.KeyringPath == "" {
		errs = append(errs, fmt.Errorf("templates.keyring is required with templates.bundle_url"))
	}
	if cfg.Mirror.Enabled {
		if cfg.Mirror.Endpoint == "" {
			errs = append(errs, fmt.Errorf("mirror.endpoint is required when the mirror is enabled"))
		}
		if cfg.Mirror.Bucket == "" {
			errs = append(errs, fmt.Errorf("mirror.bucket is required when the mirror is enabled"))
		}
	}

	return errors.Join(errs...)
}

func parseDuration(field, value string, fallback time.Duration, errs *[]error) time.Duration {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", field, err))
		return fallback
	}
	return d
}

func boolOr(v *bool, fallback bool) bool {
	if v == nil {
		return fallback
	}
	return *v
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// expandHome replaces a leading ~ with the user's home directory
func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
