// Package config builds the single Config value shared by every component.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

var ErrImproperlyConfigured = errors.New("improperly configured")

type Config struct {
	Debug                bool   `yaml:"debug"`
	DuringDebug          bool   `yaml:"during_debug"`
	GzipInTemplate       bool   `yaml:"gzip_in_template"`
	ConservativeMSIEGzip bool   `yaml:"conservative_msie_gzip"`
	UseExistingMin       bool   `yaml:"use_existing_min"`
	CombineDuringDebug   bool   `yaml:"combine_during_debug"`
	CombineDuringRequest bool   `yaml:"combine_during_request"`
	CombineOriginals     bool   `yaml:"combine_originals"`
	FailLoudly           bool   `yaml:"fail_loudly"`
	PathFragment         string `yaml:"path_fragment"`
	StaticURL            string `yaml:"static_url"`
	ManifestName         string `yaml:"manifest_name"`
	ManifestVersion      string `yaml:"manifest_version"`
	Workers              int    `yaml:"workers"`

	Stages    StageConfig    `yaml:"stages"`
	Templates TemplateConfig `yaml:"templates"`
	Storage   StorageConfig  `yaml:"storage"`
}

type StageConfig struct {
	Fingerprint bool `yaml:"fingerprint"`
	Minify      bool `yaml:"minify"`
	Gzip        bool `yaml:"gzip"`
	Manifest    bool `yaml:"manifest"`
}

// Disabled returns the names of switched off stages.
func (s StageConfig) Disabled() []string {
	var out []string
	for _, st := range []struct {
		name string
		on   bool
	}{
		{"fingerprint", s.Fingerprint},
		{"minify", s.Minify},
		{"gzip", s.Gzip},
		{"manifest", s.Manifest},
	} {
		if !st.on {
			out = append(out, st.name)
		}
	}
	return out
}

type TemplateConfig struct {
	CSS     string `yaml:"css"`
	JS      string `yaml:"js"`
	Comment string `yaml:"comment"`
}

type StorageConfig struct {
	// Backend is one of disk, memory, s3 or postgres.
	Backend        string   `yaml:"backend"`
	Root           string   `yaml:"root"`
	LocalCacheRoot string   `yaml:"local_cache_root"`
	DatabaseURL    string   `yaml:"database_url"`
	S3             S3Config `yaml:"s3"`
}

type S3Config struct {
	Endpoint     string `yaml:"endpoint"`
	Region       string `yaml:"region"`
	AccessKey    string `yaml:"access_key"`
	SecretKey    string `yaml:"secret_key"`
	Bucket       string `yaml:"bucket"`
	Prefix       string `yaml:"prefix"`
	UseSSL       bool   `yaml:"use_ssl"`
	CacheControl string `yaml:"cache_control"`
}

func (c S3Config) CanUseS3() bool {
	return strings.TrimSpace(c.Endpoint) != "" &&
		strings.TrimSpace(c.AccessKey) != "" &&
		strings.TrimSpace(c.SecretKey) != "" &&
		strings.TrimSpace(c.Bucket) != ""
}

func Default() *Config {
	return &Config{
		GzipInTemplate:       true,
		CombineDuringRequest: true,
		PathFragment:         "CARPOOL",
		StaticURL:            "/static/",
		ManifestName:         "manifest.json",
		ManifestVersion:      "1.0",
		Stages:               StageConfig{Fingerprint: true, Minify: true, Gzip: true, Manifest: true},
		Storage: StorageConfig{
			Backend: "disk",
			Root:    "static",
			S3: S3Config{
				Region: "us-east-1",
				UseSSL: true,
			},
		},
	}
}

// Load reads .env, the optional YAML file named by CONVOY_CONFIG, then the
// environment, each layer overriding the previous one.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return LoadFrom(os.Getenv("CONVOY_CONFIG"), os.LookupEnv)
}

// LoadFrom is Load with an explicit YAML path and environment.
func LoadFrom(path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()
	if path = strings.TrimSpace(path); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("decode config %s: %w", path, err)
		}
	}
	if err := applyEnv(cfg, lookup); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects flag combinations that cannot work together.
func (c *Config) Validate() error {
	if c.Debug && c.CombineDuringDebug && !c.DuringDebug {
		return fmt.Errorf("%w: combining during debug requires the pipeline during debug", ErrImproperlyConfigured)
	}
	if c.Workers < 0 {
		return fmt.Errorf("%w: workers must not be negative", ErrImproperlyConfigured)
	}
	if strings.Trim(c.PathFragment, "/") == "" {
		return fmt.Errorf("%w: path fragment is empty", ErrImproperlyConfigured)
	}
	switch c.Storage.Backend {
	case "disk", "memory":
	case "s3":
		if !c.Storage.S3.CanUseS3() {
			return fmt.Errorf("%w: s3 storage needs endpoint, credentials and bucket", ErrImproperlyConfigured)
		}
	case "postgres":
		if strings.TrimSpace(c.Storage.DatabaseURL) == "" {
			return fmt.Errorf("%w: postgres storage needs a database url", ErrImproperlyConfigured)
		}
	default:
		return fmt.Errorf("%w: unknown storage backend %q", ErrImproperlyConfigured, c.Storage.Backend)
	}
	return nil
}

// Strict reports whether combine failures should propagate.
func (c *Config) Strict() bool {
	return c.Debug || c.FailLoudly
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	env := envReader{lookup: lookup}
	env.setBool("CONVOY_DEBUG", &cfg.Debug)
	env.setBool("CONVOY_DURING_DEBUG", &cfg.DuringDebug)
	env.setBool("CONVOY_GZIP_IN_TEMPLATE", &cfg.GzipInTemplate)
	env.setBool("CONVOY_CONSERVATIVE_MSIE_GZIP", &cfg.ConservativeMSIEGzip)
	env.setBool("CONVOY_USE_EXISTING_MIN_FILES", &cfg.UseExistingMin)
	env.setBool("CARPOOL_COMBINE_DURING_DEBUG", &cfg.CombineDuringDebug)
	env.setBool("CARPOOL_COMBINE_DURING_REQUEST", &cfg.CombineDuringRequest)
	env.setBool("CARPOOL_COMBINE_ORIGINALS", &cfg.CombineOriginals)
	env.setBool("CARPOOL_FAIL_LOUDLY", &cfg.FailLoudly)
	env.setString("CARPOOL_CACHE_PATH_FRAGMENT", &cfg.PathFragment)
	env.setString("CONVOY_STATIC_URL", &cfg.StaticURL)
	env.setString("CONVOY_MANIFEST_NAME", &cfg.ManifestName)
	env.setString("CONVOY_MANIFEST_VERSION", &cfg.ManifestVersion)
	env.setInt("CONVOY_WORKERS", &cfg.Workers)

	env.setBool("CONVOY_FINGERPRINT", &cfg.Stages.Fingerprint)
	env.setBool("CONVOY_MINIFY", &cfg.Stages.Minify)
	env.setBool("CONVOY_GZIP", &cfg.Stages.Gzip)
	env.setBool("CONVOY_MANIFEST", &cfg.Stages.Manifest)

	env.setString("CONVOY_CSS_TEMPLATE", &cfg.Templates.CSS)
	env.setString("CONVOY_JS_TEMPLATE", &cfg.Templates.JS)
	env.setString("CONVOY_COMMENT_TEMPLATE", &cfg.Templates.Comment)

	st := &cfg.Storage
	env.setString("CONVOY_STORAGE", &st.Backend)
	env.setString("CONVOY_STATIC_ROOT", &st.Root)
	env.setString("CONVOY_LOCAL_CACHE_ROOT", &st.LocalCacheRoot)
	env.setString("DATABASE_URL", &st.DatabaseURL)
	env.setString("CONVOY_S3_ENDPOINT", &st.S3.Endpoint)
	env.setString("CONVOY_S3_REGION", &st.S3.Region)
	env.setString("CONVOY_S3_ACCESS_KEY", &st.S3.AccessKey)
	env.setString("CONVOY_S3_SECRET_KEY", &st.S3.SecretKey)
	env.setString("CONVOY_S3_BUCKET", &st.S3.Bucket)
	env.setString("CONVOY_S3_PREFIX", &st.S3.Prefix)
	env.setBool("CONVOY_S3_USE_SSL", &st.S3.UseSSL)
	env.setString("CONVOY_S3_CACHE_CONTROL", &st.S3.CacheControl)
	st.S3.AccessKey = firstNonEmpty(st.S3.AccessKey, env.get("MINIO_ROOT_USER"))
	st.S3.SecretKey = firstNonEmpty(st.S3.SecretKey, env.get("MINIO_ROOT_PASSWORD"))
	if st.LocalCacheRoot == "" && st.Backend != "disk" && st.Backend != "memory" {
		st.LocalCacheRoot = st.Root
	}
	return env.err
}

// envReader overrides fields only for variables that are set. The first
// malformed value is kept in err.
type envReader struct {
	lookup func(string) (string, bool)
	err    error
}

func (e *envReader) get(key string) string {
	if e.lookup == nil {
		return ""
	}
	v, _ := e.lookup(key)
	return strings.TrimSpace(v)
}

func (e *envReader) setString(key string, dst *string) {
	if v := e.get(key); v != "" {
		*dst = v
	}
}

func (e *envReader) setBool(key string, dst *bool) {
	v := e.get(key)
	if v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(key, v)
		return
	}
	*dst = b
}

func (e *envReader) setInt(key string, dst *int) {
	v := e.get(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, v)
		return
	}
	*dst = n
}

func (e *envReader) fail(key, value string) {
	if e.err == nil {
		e.err = fmt.Errorf("%w: %s=%q", ErrImproperlyConfigured, key, value)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
