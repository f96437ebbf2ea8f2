// Package config loads the dashsync YAML configuration, applies environment
// overrides and compiles the derived fields the components need.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server  Server  `yaml:"server"`
	Logging Logging `yaml:"logging"`
	Relay   Relay   `yaml:"relay"`
	Agent   Agent   `yaml:"agent"`
	Sync    Sync    `yaml:"sync"`
	Journey Journey `yaml:"journey"`
}

type Server struct {
	Port int `yaml:"port"`
}

type Logging struct {
	Level         string `yaml:"level"`
	Development   bool   `yaml:"development"`
	LogStatsEvery string `yaml:"logStatsEvery"`

	LogStatsEveryDur time.Duration `yaml:"-"`
}

type Relay struct {
	// Upstream is the backend web app URL. Left empty, the relay answers 500.
	Upstream string `yaml:"upstream"`
	Timeout  string `yaml:"timeout"`
	CORS     CORS   `yaml:"cors"`

	TimeoutDur time.Duration `yaml:"-"`
}

type CORS struct {
	AllowOrigins  []string `yaml:"allowOrigins"`
	AllowSuffixes []string `yaml:"allowSuffixes"`
	// Strict drops Access-Control-Allow-Origin for present but unknown origins.
	Strict bool `yaml:"strict"`
	MaxAge int  `yaml:"maxAge"`
}

type Agent struct {
	ShellOrigin  string   `yaml:"shellOrigin"`
	CacheName    string   `yaml:"cacheName"`
	Version      string   `yaml:"version"`
	Dynamic      string   `yaml:"dynamic"`
	Precache     []string `yaml:"precache"`
	TrustedHosts []string `yaml:"trustedHosts"`

	Storage struct {
		Backend string `yaml:"backend"` // memory | leveldb
		Path    string `yaml:"path"`
		RAM     struct {
			Max string `yaml:"max"`
		} `yaml:"ram"`
	} `yaml:"storage"`

	Revalidate struct {
		Concurrency int    `yaml:"concurrency"`
		Timeout     string `yaml:"timeout"`
	} `yaml:"revalidate"`

	DynamicMatchers      Matchers      `yaml:"-"`
	RAMMaxBytes          int64         `yaml:"-"`
	RevalidateTimeoutDur time.Duration `yaml:"-"`
}

// StoreName is the name of the store owned by the current agent version.
func (a Agent) StoreName() string { return a.CacheName + "-" + a.Version }

type Sync struct {
	// Backend is the base URL the dashboard posts API actions to.
	Backend        string   `yaml:"backend"`
	Period         string   `yaml:"period"`
	RetryDelay     string   `yaml:"retryDelay"`
	Timeout        string   `yaml:"timeout"`
	SessionMarkers []string `yaml:"sessionMarkers"`

	Credentials struct {
		Backend string `yaml:"backend"` // memory | file
		Path    string `yaml:"path"`
	} `yaml:"credentials"`

	RetryDelayDur time.Duration `yaml:"-"`
	TimeoutDur    time.Duration `yaml:"-"`
}

type Journey struct {
	EntryPatterns    []string `yaml:"entryPatterns"`
	ProjectPatterns  []string `yaml:"projectPatterns"`
	ExcludedPatterns []string `yaml:"excludedPatterns"`
	InteractionEvent string   `yaml:"interactionEvent"`
}

// Default returns the configuration of the UWC analytics deployment.
func Default() Config {
	var cfg Config
	cfg.Server.Port = 8788
	cfg.Logging.Level = "info"

	cfg.Relay.Timeout = "30s"
	cfg.Relay.CORS.AllowOrigins = []string{"http://localhost:8788"}
	cfg.Relay.CORS.AllowSuffixes = []string{".pages.dev"}
	cfg.Relay.CORS.MaxAge = 86400

	cfg.Agent.ShellOrigin = "http://localhost:8080"
	cfg.Agent.CacheName = "uwc-analytics"
	cfg.Agent.Version = "v1"
	cfg.Agent.Dynamic = "PathPrefix(/api/)"
	cfg.Agent.Precache = []string{
		"/", "/index.html", "/style.css", "/app.js",
		"/login.html", "/login.css", "/login.js", "/manifest.json",
	}
	cfg.Agent.TrustedHosts = []string{
		"cdn.jsdelivr.net",
		"cdnjs.cloudflare.com",
		"fonts.googleapis.com",
		"fonts.gstatic.com",
		"innovationhub.uwc.ac.za",
		"uwc-za.b-cdn.net",
	}
	cfg.Agent.Storage.Backend = "memory"
	cfg.Agent.Storage.Path = "./data/leveldb"
	cfg.Agent.Storage.RAM.Max = "64mb"
	cfg.Agent.Revalidate.Concurrency = 32
	cfg.Agent.Revalidate.Timeout = "30s"

	cfg.Sync.Backend = "http://localhost:8788"
	cfg.Sync.Period = "WEEKLY"
	cfg.Sync.RetryDelay = "5s"
	cfg.Sync.Timeout = "30s"
	cfg.Sync.SessionMarkers = []string{
		"authorization", "permission", "not logged in", "invalid session", "invalid_session",
	}
	cfg.Sync.Credentials.Backend = "file"
	cfg.Sync.Credentials.Path = "./data/credentials.yaml"

	cfg.Journey.EntryPatterns = []string{"/uwc.ac.za/idealoceanhome", "/interactive-loggerhead"}
	cfg.Journey.ProjectPatterns = []string{"/jigspace/loggerheadturtle", "/jigspace/loggerhead"}
	cfg.Journey.ExcludedPatterns = []string{"/uwc-tto", "/tto"}
	cfg.Journey.InteractionEvent = "open_interactive_model"
	return cfg
}

// LoadConfig reads path over the defaults. An empty path uses defaults only.
// A .env file in the working directory is loaded first when present.
func LoadConfig(path string) (Config, error) {
	if err := godotenv.Load(); err == nil {
		log.Println("loaded environment from .env")
	}

	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, err
		}
	}

	readEnvironment(&cfg)

	if err := cfg.compile(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func readEnvironment(cfg *Config) {
	if v := os.Getenv("APPS_SCRIPT_URL"); v != "" {
		cfg.Relay.Upstream = v
	}
	if v := os.Getenv("PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err == nil {
			cfg.Server.Port = p
		} else {
			log.Printf("invalid PORT env var: %v", err)
		}
	}
	if v := os.Getenv("DASHSYNC_BACKEND"); v != "" {
		cfg.Sync.Backend = v
	}
	if v := os.Getenv("DASHSYNC_SHELL_ORIGIN"); v != "" {
		cfg.Agent.ShellOrigin = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

func (cfg *Config) compile() error {
	var err error

	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8788
	}
	if cfg.Logging.LogStatsEvery != "" {
		if cfg.Logging.LogStatsEveryDur, err = time.ParseDuration(cfg.Logging.LogStatsEvery); err != nil {
			return fmt.Errorf("logging.logStatsEvery: %w", err)
		}
	}

	if cfg.Relay.TimeoutDur, err = time.ParseDuration(cfg.Relay.Timeout); err != nil {
		return fmt.Errorf("relay.timeout: %w", err)
	}

	a := &cfg.Agent
	a.ShellOrigin = strings.TrimRight(a.ShellOrigin, "/")
	if a.DynamicMatchers, err = ParseMatch(a.Dynamic); err != nil {
		return fmt.Errorf("agent.dynamic: %w", err)
	}
	if a.RAMMaxBytes, err = ParseBytes(a.Storage.RAM.Max); err != nil {
		return fmt.Errorf("agent.storage.ram.max: %w", err)
	}
	if a.RevalidateTimeoutDur, err = time.ParseDuration(a.Revalidate.Timeout); err != nil {
		return fmt.Errorf("agent.revalidate.timeout: %w", err)
	}

	s := &cfg.Sync
	s.Backend = strings.TrimRight(s.Backend, "/")
	if s.RetryDelayDur, err = time.ParseDuration(s.RetryDelay); err != nil {
		return fmt.Errorf("sync.retryDelay: %w", err)
	}
	if s.TimeoutDur, err = time.ParseDuration(s.Timeout); err != nil {
		return fmt.Errorf("sync.timeout: %w", err)
	}
	return nil
}

func (cfg Config) Validate() error {
	return validation.ValidateStruct(&cfg,
		validation.Field(&cfg.Server),
		validation.Field(&cfg.Logging),
		validation.Field(&cfg.Relay),
		validation.Field(&cfg.Agent),
		validation.Field(&cfg.Sync),
		validation.Field(&cfg.Journey),
	)
}

func (s Server) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

func (l Logging) Validate() error {
	return validation.ValidateStruct(&l,
		validation.Field(&l.Level, validation.In("debug", "info", "warn", "error")),
	)
}

func (r Relay) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Upstream, is.URL),
		validation.Field(&r.TimeoutDur, validation.Min(time.Millisecond)),
		validation.Field(&r.CORS),
	)
}

func (c CORS) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.MaxAge, validation.Min(0)),
		validation.Field(&c.AllowOrigins, validation.Each(is.URL)),
	)
}

func (a Agent) Validate() error {
	err := validation.ValidateStruct(&a,
		validation.Field(&a.ShellOrigin, validation.Required, is.URL),
		validation.Field(&a.CacheName, validation.Required),
		validation.Field(&a.Version, validation.Required),
		validation.Field(&a.Precache, validation.Each(validation.Required)),
		validation.Field(&a.TrustedHosts, validation.Each(validation.Required, is.Host)),
	)
	if err != nil {
		return err
	}
	return validation.Errors{
		"storage.backend":        validation.Validate(a.Storage.Backend, validation.In("memory", "leveldb")),
		"revalidate.concurrency": validation.Validate(a.Revalidate.Concurrency, validation.Min(1)),
	}.Filter()
}

func (s Sync) Validate() error {
	err := validation.ValidateStruct(&s,
		validation.Field(&s.Backend, validation.Required, is.URL),
		validation.Field(&s.Period, validation.Required),
		validation.Field(&s.RetryDelayDur, validation.Min(time.Duration(0))),
	)
	if err != nil {
		return err
	}
	return validation.Errors{
		"credentials.backend": validation.Validate(s.Credentials.Backend, validation.In("memory", "file")),
	}.Filter()
}

func (j Journey) Validate() error {
	return validation.ValidateStruct(&j,
		validation.Field(&j.InteractionEvent, validation.Required),
	)
}
