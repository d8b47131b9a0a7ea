package entities

import "time"

// Config is the complete runtime configuration of a scan
type Config struct {
	Home           string
	CacheDir       string
	ReportsDir     string
	Threads        int
	AllowDegraded  bool
	PrepareTimeout time.Duration  // bounds engine provisioning per scan
	Engines        []EngineConfig // declared order is merge priority
	Decompiler     DecompilerConfig
	Templates      TemplateConfig
	Nuclei         NucleiConfig
	Reavs          ReavsConfig
	Mirror         MirrorConfig
}

// EngineConfig configures one engine
type EngineConfig struct {
	ID                EngineID
	Enabled           bool
	Timeout           time.Duration
	Targets           []TreeKind
	SeverityOverrides map[string]Severity
	Categories        map[string]string // rule id -> canonical category
}

// DecompilerConfig configures the two decompilers
type DecompilerConfig struct {
	Apktool        string
	Jadx           string
	ApktoolTimeout time.Duration
	JadxTimeout    time.Duration
	JadxThreads    int
}

// TemplateConfig configures pattern-engine template provisioning.
// When BundleURL is set the bundle is used instead of the git repository.
type TemplateConfig struct {
	Dir          string
	RepoURL      string
	Update       bool
	BundleURL    string
	SignatureURL string
	KeyringPath  string
}

// NucleiConfig configures the pattern engine runtime
type NucleiConfig struct {
	Binary      string
	InstallDir  string
	AutoInstall bool
	Concurrency int
}

// ReavsConfig configures the taint engine runtime
type ReavsConfig struct {
	Dir       string
	RepoURL   string
	Python    string
	AutoSetup bool
	Deep      bool
	Depth     int
}

// MirrorConfig configures the optional S3 report mirror
type MirrorConfig struct {
	Enabled   bool
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Engine returns the config for id, if declared
func (c *Config) Engine(id EngineID) (EngineConfig, bool) {
	for _, e := range c.Engines {
		if e.ID == id {
			return e, true
		}
	}
	return EngineConfig{}, false
}

// Priority returns the declared engine order
func (c *Config) Priority() []EngineID {
	ids := make([]EngineID, 0, len(c.Engines))
	for _, e := range c.Engines {
		ids = append(ids, e.ID)
	}
	return ids
}
