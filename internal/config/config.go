// Package config loads the process configuration from the environment and
// validates it before any connection is opened.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/OFFIS-RIT/toolgraph/backend/internal/storage"
	"github.com/OFFIS-RIT/toolgraph/backend/internal/util"
	"github.com/OFFIS-RIT/toolgraph/backend/pkg/cache"
	"github.com/OFFIS-RIT/toolgraph/backend/pkg/recommend"

	"github.com/caarlos0/env/v11"
)

const (
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"
)

const (
	AdapterPgx    = "pgx"
	AdapterNeo4j  = "neo4j"
	AdapterMemory = "memory"
)

// MemoryCacheDir runs the result cache without touching disk.
const MemoryCacheDir = cache.InMemoryDir

type Config struct {
	Environment string `env:"ENVIRONMENT,required,notEmpty"`
	Port        int    `env:"PORT,required,notEmpty"`
	Debug       bool   `env:"DEBUG"`

	Graph    GraphConfig
	Semantic SemanticConfig
	Cache    CacheConfig
	Limits   LimitsConfig
	S3       S3Config

	CollabStoreURL         string `env:"COLLAB_STORE_URL,required,notEmpty"`
	ClassificationStoreURL string `env:"CLASSIFICATION_STORE_URL,required,notEmpty"`
	RabbitMQURL            string `env:"RABBITMQ_URL,required,notEmpty"`

	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT,required,notEmpty"`
	SemanticTimeout time.Duration `env:"SEMANTIC_TIMEOUT,required,notEmpty"`

	WeightGraph         float64 `env:"WEIGHT_GRAPH,required,notEmpty"`
	WeightContent       float64 `env:"WEIGHT_CONTENT,required,notEmpty"`
	WeightCollaborative float64 `env:"WEIGHT_COLLABORATIVE,required,notEmpty"`
	WeightSemantic      float64 `env:"WEIGHT_SEMANTIC,required,notEmpty"`

	PrimaryLanguage    string   `env:"PRIMARY_LANGUAGE,required,notEmpty"`
	SupportedLanguages []string `env:"SUPPORTED_LANGUAGES,required,notEmpty" envSeparator:","`

	AuthURL      string `env:"AUTH_URL"`
	MasterAPIKey string `env:"MASTER_API_KEY"`
}

type GraphConfig struct {
	Adapter  string `env:"GRAPH_ADAPTER,required,notEmpty"`
	URL      string `env:"GRAPH_STORE_URL,required,notEmpty"`
	User     string `env:"GRAPH_STORE_USER"`
	Password string `env:"GRAPH_STORE_PASSWORD"`
	// SeedFile is imported by the worker on start when set.
	SeedFile string `env:"GRAPH_SEED_FILE"`
}

type SemanticConfig struct {
	Adapter     string `env:"SEMANTIC_ADAPTER,required,notEmpty"`
	Mode        string `env:"SEMANTIC_MODE,required,notEmpty"`
	URL         string `env:"SEMANTIC_URL"`
	Key         string `env:"SEMANTIC_KEY"`
	EmbedModel  string `env:"SEMANTIC_EMBED_MODEL"`
	ChatModel   string `env:"SEMANTIC_CHAT_MODEL"`
	RateModel   string `env:"SEMANTIC_RATE_MODEL"`
	Thinking    string `env:"SEMANTIC_THINKING"`
	Dimensions  int    `env:"SEMANTIC_DIMENSIONS"`
	MaxParallel int64  `env:"SEMANTIC_MAX_PARALLEL,required,notEmpty"`
}

type CacheConfig struct {
	Dir string        `env:"CACHE_DIR,required,notEmpty"`
	TTL time.Duration `env:"CACHE_TTL,required,notEmpty"`
}

type LimitsConfig struct {
	Results     int `env:"RESULT_LIMIT,required,notEmpty"`
	Candidates  int `env:"CANDIDATE_LIMIT,required,notEmpty"`
	Accessories int `env:"ACCESSORY_LIMIT,required,notEmpty"`
}

type S3Config struct {
	Region    string `env:"AWS_REGION"`
	Endpoint  string `env:"AWS_ENDPOINT"`
	AccessKey string `env:"AWS_ACCESS_KEY"`
	SecretKey string `env:"AWS_SECRET_KEY"`
}

// Load reads .env, parses the environment and validates the result.
func Load() (*Config, error) {
	util.LoadEnv()
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", recommend.ErrConfiguration, err)
	}
	return cfg, cfg.Validate()
}

// LoadFrom is Load over an explicit environment.
func LoadFrom(environ map[string]string) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Environment: environ}); err != nil {
		return nil, fmt.Errorf("%w: %v", recommend.ErrConfiguration, err)
	}
	return cfg, cfg.Validate()
}

func (c *Config) Weights() recommend.Weights {
	return recommend.Weights{
		recommend.Graph:         c.WeightGraph,
		recommend.Content:       c.WeightContent,
		recommend.Collaborative: c.WeightCollaborative,
		recommend.Semantic:      c.WeightSemantic,
	}
}

func (c *Config) Engine() recommend.Config {
	return recommend.Config{
		Weights:            c.Weights(),
		RequestTimeout:     c.RequestTimeout,
		SemanticTimeout:    c.SemanticTimeout,
		ResultLimit:        c.Limits.Results,
		CandidateLimit:     c.Limits.Candidates,
		AccessoryLimit:     c.Limits.Accessories,
		PrimaryLanguage:    c.PrimaryLanguage,
		SupportedLanguages: c.SupportedLanguages,
	}
}

func (c *Config) S3Params() storage.S3Params {
	return storage.S3Params{
		Region:    c.S3.Region,
		Endpoint:  c.S3.Endpoint,
		AccessKey: c.S3.AccessKey,
		SecretKey: c.S3.SecretKey,
	}
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == EnvDevelopment
}

// Validate fails on the first inconsistent setting. Every error wraps
// recommend.ErrConfiguration.
func (c *Config) Validate() error {
	err := c.validate()
	if err == nil || errors.Is(err, recommend.ErrConfiguration) {
		return err
	}
	return fmt.Errorf("%w: %v", recommend.ErrConfiguration, err)
}

func (c *Config) validate() error {
	switch c.Environment {
	case EnvDevelopment, EnvStaging, EnvProduction:
	default:
		return fmt.Errorf("ENVIRONMENT must be development, staging or production, got %q", c.Environment)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT out of range: %d", c.Port)
	}

	switch c.Graph.Adapter {
	case AdapterPgx:
		if err := c.checkURL("GRAPH_STORE_URL", c.Graph.URL, "postgres", "postgresql"); err != nil {
			return err
		}
	case AdapterNeo4j:
		if err := c.checkURL("GRAPH_STORE_URL", c.Graph.URL, "neo4j", "neo4j+s", "bolt", "bolt+s"); err != nil {
			return err
		}
	case AdapterMemory:
		if !c.IsDevelopment() {
			return errors.New("GRAPH_ADAPTER=memory is only allowed in development")
		}
		if err := c.checkURL("GRAPH_STORE_URL", c.Graph.URL, "file"); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown GRAPH_ADAPTER %q", c.Graph.Adapter)
	}

	if err := c.checkURL("COLLAB_STORE_URL", c.CollabStoreURL, "postgres", "postgresql", "file"); err != nil {
		return err
	}
	if err := c.checkURL("CLASSIFICATION_STORE_URL", c.ClassificationStoreURL, "postgres", "postgresql", "s3", "file"); err != nil {
		return err
	}
	if err := c.checkURL("RABBITMQ_URL", c.RabbitMQURL, "amqp", "amqps"); err != nil {
		return err
	}
	if c.AuthURL != "" {
		if err := c.checkURL("AUTH_URL", c.AuthURL, "http", "https"); err != nil {
			return err
		}
	}

	if err := c.validateSemantic(); err != nil {
		return err
	}

	if c.Cache.TTL <= 0 {
		return fmt.Errorf("CACHE_TTL must be positive, got %s", c.Cache.TTL)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive, got %s", c.RequestTimeout)
	}
	if c.SemanticTimeout <= 0 {
		return fmt.Errorf("SEMANTIC_TIMEOUT must be positive, got %s", c.SemanticTimeout)
	}
	if c.SemanticTimeout > c.RequestTimeout {
		return fmt.Errorf("SEMANTIC_TIMEOUT %s exceeds REQUEST_TIMEOUT %s", c.SemanticTimeout, c.RequestTimeout)
	}

	if err := c.Weights().Validate(); err != nil {
		return err
	}

	if c.Limits.Results <= 0 || c.Limits.Candidates <= 0 || c.Limits.Accessories <= 0 {
		return fmt.Errorf("invalid limits: results=%d candidates=%d accessories=%d",
			c.Limits.Results, c.Limits.Candidates, c.Limits.Accessories)
	}

	for i, lang := range c.SupportedLanguages {
		c.SupportedLanguages[i] = strings.ToLower(strings.TrimSpace(lang))
	}
	c.PrimaryLanguage = strings.ToLower(strings.TrimSpace(c.PrimaryLanguage))
	if !slices.Contains(c.SupportedLanguages, c.PrimaryLanguage) {
		return fmt.Errorf("PRIMARY_LANGUAGE %q is not in SUPPORTED_LANGUAGES %v", c.PrimaryLanguage, c.SupportedLanguages)
	}
	return nil
}

func (c *Config) validateSemantic() error {
	mode, err := recommend.ParseSemanticMode(c.Semantic.Mode)
	if err != nil {
		return err
	}
	switch c.Semantic.Adapter {
	case "openai":
		// without a key the client has no backend at all
		if c.Semantic.Key == "" {
			return errors.New("SEMANTIC_KEY is required for the openai adapter")
		}
	case "ollama":
		if c.Semantic.Key == "" && !c.IsDevelopment() {
			return errors.New("SEMANTIC_KEY is required for the ollama adapter outside development")
		}
		if c.Semantic.Dimensions <= 0 {
			return errors.New("SEMANTIC_DIMENSIONS is required for the ollama adapter")
		}
	default:
		return fmt.Errorf("unknown SEMANTIC_ADAPTER %q", c.Semantic.Adapter)
	}

	if c.Semantic.URL == "" {
		return fmt.Errorf("SEMANTIC_URL is required for the %s adapter", c.Semantic.Adapter)
	}
	if err := c.checkURL("SEMANTIC_URL", c.Semantic.URL, "http", "https"); err != nil {
		return err
	}

	switch mode {
	case recommend.ModeEmbedding:
		if c.Semantic.EmbedModel == "" {
			return errors.New("SEMANTIC_EMBED_MODEL is required in embedding mode")
		}
	case recommend.ModeGenerative:
		if c.Semantic.ChatModel == "" {
			return errors.New("SEMANTIC_CHAT_MODEL is required in generative mode")
		}
	}

	if c.Semantic.MaxParallel <= 0 {
		return fmt.Errorf("SEMANTIC_MAX_PARALLEL must be positive, got %d", c.Semantic.MaxParallel)
	}
	return nil
}

// checkURL parses raw and checks its scheme. Outside development the host
// must name a remote machine and file:// stores are rejected.
func (c *Config) checkURL(key, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s does not parse: %v", key, err)
	}
	if !slices.Contains(schemes, u.Scheme) {
		return fmt.Errorf("%s has scheme %q, want one of %v", key, u.Scheme, schemes)
	}
	if c.IsDevelopment() {
		return nil
	}
	if u.Scheme == "file" {
		return fmt.Errorf("%s: file stores are only allowed in development", key)
	}
	if u.Scheme == "s3" {
		return nil
	}
	if isLocalHost(u.Hostname()) {
		return fmt.Errorf("%s points at local host %q outside development", key, u.Hostname())
	}
	return nil
}

var hostname = os.Hostname

// isLocalHost reports whether host is empty, loopback, unspecified,
// localhost or this machine's own name.
func isLocalHost(host string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if host == "" || host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback() || ip.IsUnspecified()
	}
	if own, err := hostname(); err == nil && strings.EqualFold(host, own) {
		return true
	}
	return false
}
