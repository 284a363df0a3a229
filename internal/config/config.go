// Package config loads the YAML config file, then applies .env files and
// environment overrides declared with `env` struct tags. Environment wins.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"wikimoves/internal/logger"
)

const (
	DefaultPrimaryAPI = "https://he.wikipedia.org/w/api.php"
	DefaultMirrorAPI  = "https://www.hamichlol.org.il/w/api.php"
)

// Credential variables keep the spelling the deployment already uses.
type Config struct {
	Primary struct {
		APIURL   string `yaml:"api_url" env:"WIKI_API_URL"`
		Username string `yaml:"username" env:"WIKI_USERNAME"`
		Password string `yaml:"password" env:"WIKI_PASSWARD"`
	} `yaml:"primary"`
	Mirror struct {
		APIURL   string `yaml:"api_url" env:"HAMICHLOL_API_URL"`
		Username string `yaml:"username" env:"HAMICHLOL_USERNAME"`
		Password string `yaml:"password" env:"HAMICHLOL_PASSWARD"`
	} `yaml:"mirror"`
	HTTP struct {
		Timeout            time.Duration `yaml:"timeout" env:"HTTP_TIMEOUT"`
		UserAgent          string        `yaml:"user_agent" env:"HTTP_USER_AGENT"`
		InsecureSkipVerify bool          `yaml:"insecure_skip_verify" env:"HTTP_INSECURE_SKIP_VERIFY"`
	} `yaml:"http"`
	Run struct {
		Namespaces    []int         `yaml:"namespaces" env:"RUN_NAMESPACES"`
		Window        time.Duration `yaml:"window" env:"RUN_WINDOW"`
		BatchSize     int           `yaml:"batch_size" env:"RUN_BATCH_SIZE"`
		BatchInterval time.Duration `yaml:"batch_interval" env:"RUN_BATCH_INTERVAL"`
		DryRun        bool          `yaml:"dry_run" env:"RUN_DRY_RUN"`
	} `yaml:"run"`
	Report struct {
		Page     string `yaml:"page" env:"REPORT_PAGE"`
		Summary  string `yaml:"summary" env:"REPORT_SUMMARY"`
		Mention  string `yaml:"mention" env:"REPORT_MENTION"`
		Timezone string `yaml:"timezone" env:"REPORT_TIMEZONE"`
	} `yaml:"report"`
	Logging logger.Config `yaml:"logging"`
	Server  struct {
		Addr string `yaml:"addr" env:"SERVER_ADDR"`
	} `yaml:"server"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	c := &Config{}
	c.Primary.APIURL = DefaultPrimaryAPI
	c.Mirror.APIURL = DefaultMirrorAPI
	c.HTTP.Timeout = 30 * time.Second
	c.HTTP.UserAgent = "WikiMoves/1.0 (Go)"
	c.HTTP.InsecureSkipVerify = true
	c.Run.Namespaces = []int{0, 14, 10}
	c.Run.Window = 7 * 24 * time.Hour
	c.Run.BatchSize = 10
	c.Run.BatchInterval = 500 * time.Millisecond
	c.Report.Page = "משתמש:מוטי בוט/יומן העברות ויקי"
	c.Report.Summary = `דו"ח העברות ויקי שבועי`
	c.Report.Mention = "@[[משתמש:נריה|נריה]]"
	c.Report.Timezone = "Asia/Jerusalem"
	c.Logging.Level = "info"
	c.Server.Addr = ":8080"
	return c
}

// Load reads path over the defaults. An empty path skips the file; a named
// file that does not exist is an error.
func Load(path string) (*Config, error) {
	if err := loadEnvFiles(); err != nil {
		return nil, fmt.Errorf("load environment files: %w", err)
	}
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	for name, raw := range map[string]string{"primary.api_url": c.Primary.APIURL, "mirror.api_url": c.Mirror.APIURL} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("%s: invalid url %q", name, raw))
		}
	}
	if c.Run.BatchSize <= 0 || c.Run.BatchSize > 50 {
		errs = append(errs, fmt.Errorf("run.batch_size must be 1..50, got %d", c.Run.BatchSize))
	}
	if len(c.Run.Namespaces) == 0 {
		errs = append(errs, errors.New("run.namespaces must not be empty"))
	}
	if c.Run.Window <= 0 {
		errs = append(errs, errors.New("run.window must be positive"))
	}
	if c.Run.BatchInterval < 0 {
		errs = append(errs, errors.New("run.batch_interval must not be negative"))
	}
	if c.Report.Page == "" {
		errs = append(errs, errors.New("report.page is required"))
	}
	return errors.Join(errs...)
}

// Location resolves Report.Timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	if c.Report.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Report.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
