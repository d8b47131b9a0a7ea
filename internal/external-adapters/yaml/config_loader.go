package yaml

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/ochairo/geiger/internal/domain/entities"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "GEIGER_"

// ConfigLoader resolves the effective configuration from .env, the YAML
// file and GEIGER_* variables, in that order of increasing precedence
type ConfigLoader struct {
	parser    *ConfigParser
	lookupEnv func(string) (string, bool)
}

// NewConfigLoader creates a loader reading the process environment
func NewConfigLoader() *ConfigLoader {
	home := "~/.geiger"
	if v, ok := os.LookupEnv(EnvPrefix + "HOME"); ok && v != "" {
		home = v
	}
	return &ConfigLoader{
		parser:    NewConfigParser(home),
		lookupEnv: os.LookupEnv,
	}
}

// NewConfigLoaderWithEnv creates a loader with an explicit environment (for testing)
func NewConfigLoaderWithEnv(home string, env map[string]string) *ConfigLoader {
	return &ConfigLoader{
		parser: NewConfigParser(home),
		lookupEnv: func(key string) (string, bool) {
			v, ok := env[key]
			return v, ok
		},
	}
}

// ConfigPath returns $GEIGER_CONFIG, or config.yml under the default home
func (l *ConfigLoader) ConfigPath() string {
	if v, ok := l.lookupEnv(EnvPrefix + "CONFIG"); ok && v != "" {
		return expandHome(v)
	}
	return filepath.Join(expandHome(l.parser.home), "config.yml")
}

// Load parses the config at path (ConfigPath when empty) and applies
// environment overrides. A missing file yields the defaults.
func (l *ConfigLoader) Load(path string) (*entities.Config, error) {
	if path == "" {
		path = l.ConfigPath()
	}

	//nolint:gosec // G304: path is the user's config file
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read file %s: %w", path, err)
	}

	cfg, err := l.parser.parse(data, l.lookupEnv)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment.
// Variables already set win; a missing file is not an error.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// applyEnv overrides raw values with GEIGER_* variables
func applyEnv(raw *yamlConfig, lookup func(string) (string, bool), errs *[]error) {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	boolean := func(name string, set func(bool)) {
		v, ok := lookup(EnvPrefix + name)
		if !ok || v == "" {
			return
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			*errs = append(*errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
			return
		}
		set(b)
	}

	str("HOME", &raw.Home)
	str("CACHE_DIR", &raw.CacheDir)
	str("REPORTS_DIR", &raw.ReportsDir)
	str("TEMPLATES_DIR", &raw.Templates.Dir)
	str("NUCLEI_BINARY", &raw.Nuclei.Binary)
	str("REAVS_DIR", &raw.Reavs.Dir)
	str("REAVS_PYTHON", &raw.Reavs.Python)

	if v, ok := lookup(EnvPrefix + "THREADS"); ok && v != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			*errs = append(*errs, fmt.Errorf("%sTHREADS: %w", EnvPrefix, err))
		} else {
			raw.Threads = n
		}
	}
	boolean("ALLOW_DEGRADED", func(b bool) { raw.AllowDegraded = b })

	str("S3_ENDPOINT", &raw.Mirror.Endpoint)
	str("S3_REGION", &raw.Mirror.Region)
	str("S3_ACCESS_KEY", &raw.Mirror.AccessKey)
	str("S3_SECRET_KEY", &raw.Mirror.SecretKey)
	str("S3_BUCKET", &raw.Mirror.Bucket)
	boolean("S3_USE_SSL", func(b bool) { raw.Mirror.UseSSL = &b })
	if v, ok := lookup(EnvPrefix + "S3_BUCKET"); ok && v != "" {
		raw.Mirror.Enabled = true
	}
	boolean("S3_ENABLED", func(b bool) { raw.Mirror.Enabled = b })
}
