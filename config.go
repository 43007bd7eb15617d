package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Config defines the structure of the configuration file.
type Config struct {
	GitCommit    string        `yaml:"git_commit" envconfig:"MLA_GIT_COMMIT"`
	GitTag       string        `yaml:"git_tag" envconfig:"MLA_GIT_TAG"`
	BuildTime    string        `yaml:"build_time" envconfig:"MLA_BUILD_TIME"`
	IsProduction bool          `yaml:"is_production" envconfig:"MLA_IS_PRODUCTION"`
	LogLevel     zapcore.Level `yaml:"log_level" envconfig:"MLA_LOG_LEVEL"`
	LogFile      string        `yaml:"log_file" envconfig:"MLA_LOG_FILE"`
	Server       ServerConfig  `yaml:"server"`
	Backend      BackendConfig `yaml:"backend"`
	BoltDB       BoltDBConfig  `yaml:"boltdb"`
	Redis        RedisConfig   `yaml:"redis"`
	Covers       CoversConfig  `yaml:"covers"`
	Auth         AuthConfig    `yaml:"auth"`
	Library      LibraryConfig `yaml:"library"`
}

type ServerConfig struct {
	Host            string        `yaml:"host" envconfig:"MLA_SERVER_HOST"`
	Port            string        `yaml:"port" envconfig:"MLA_SERVER_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"MLA_SERVER_READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"MLA_SERVER_WRITE_TIMEOUT"`
	RequestTimeout  time.Duration `yaml:"request_timeout" envconfig:"MLA_SERVER_REQUEST_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"MLA_SERVER_SHUTDOWN_TIMEOUT"`
}

// BackendConfig points at the remote tabular record store.
type BackendConfig struct {
	URL            string        `yaml:"url" envconfig:"MLA_BACKEND_URL"`
	APIKey         string        `yaml:"api_key" envconfig:"MLA_BACKEND_API_KEY"`
	ServiceToken   string        `yaml:"service_token" envconfig:"MLA_BACKEND_SERVICE_TOKEN"`
	RequestTimeout time.Duration `yaml:"request_timeout" envconfig:"MLA_BACKEND_REQUEST_TIMEOUT"`
}

type BoltDBConfig struct {
	FilePath string        `yaml:"filepath" envconfig:"MLA_BOLTDB_FILE_PATH"`
	Timeout  time.Duration `yaml:"timeout" envconfig:"MLA_BOLTDB_TIMEOUT"`
}

type RedisConfig struct {
	Host          string        `yaml:"host" envconfig:"MLA_REDIS_HOST"`
	Port          string        `yaml:"port" envconfig:"MLA_REDIS_PORT"`
	DialTimeout   time.Duration `yaml:"dial_timeout" envconfig:"MLA_REDIS_DIAL_TIMEOUT"`
	ReadTimeout   time.Duration `yaml:"read_timeout" envconfig:"MLA_REDIS_READ_TIMEOUT"`
	WriteTimeout  time.Duration `yaml:"write_timeout" envconfig:"MLA_REDIS_WRITE_TIMEOUT"`
	PoolSize      int           `yaml:"pool_size" envconfig:"MLA_REDIS_POOL_SIZE"`
	PoolTimeout   time.Duration `yaml:"pool_timeout" envconfig:"MLA_REDIS_POOL_TIMEOUT"`
	Username      string        `yaml:"username" envconfig:"MLA_REDIS_USERNAME"`
	Password      string        `yaml:"password" envconfig:"MLA_REDIS_PASSWORD"`
	DatabaseIndex int           `yaml:"db_index" envconfig:"MLA_REDIS_DATABASE_INDEX"`
}

// Addr joins the configured redis host and port.
func (rc RedisConfig) Addr() string {
	return net.JoinHostPort(rc.Host, rc.Port)
}

// CoversConfig drives the Google Books cover lookup.
type CoversConfig struct {
	BaseURL           string        `yaml:"base_url" envconfig:"MLA_COVERS_BASE_URL"`
	APIKey            string        `yaml:"api_key" envconfig:"MLA_COVERS_API_KEY"`
	RequestTimeout    time.Duration `yaml:"request_timeout" envconfig:"MLA_COVERS_REQUEST_TIMEOUT"`
	RequestsPerSecond int           `yaml:"requests_per_second" envconfig:"MLA_COVERS_REQUESTS_PER_SECOND"`
	CacheTTL          time.Duration `yaml:"cache_ttl" envconfig:"MLA_COVERS_CACHE_TTL"`
}

// AuthConfig carries the role the authorization oracle derives the
// capabilities from.
type AuthConfig struct {
	Role string `yaml:"role" envconfig:"MLA_AUTH_ROLE"`
}

type LibraryConfig struct {
	PerPage int `yaml:"per_page" envconfig:"MLA_LIBRARY_PER_PAGE"`
}

// LoadConfigFile provides an instance of config structure for the all application.
func LoadConfigFile(configFile string) (*Config, error) {
	file, err := os.Open(configFile)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	cfg := &Config{}
	yd := yaml.NewDecoder(file)
	if err = yd.Decode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfigEnvs reads the environments variables and overlays them on
// the given config.
func LoadConfigEnvs(prefix string, config *Config) error {
	return envconfig.Process(prefix, config)
}

// InitConfig sets default values for non provided parameters and records
// build tags values when provided.
func InitConfig(config *Config, gitCommit, gitTag, buildTime string) error {
	if len(gitCommit) != 0 {
		config.GitCommit = gitCommit
	}

	if len(gitTag) != 0 {
		config.GitTag = gitTag
	}

	if len(buildTime) != 0 {
		config.BuildTime = buildTime
	}

	if len(config.Server.Host) == 0 || len(config.Server.Port) == 0 {
		return errors.New("make sure to set valid server address and port in configuration file")
	}

	if len(config.Backend.URL) == 0 {
		return errors.New("make sure to set a valid backend url in configuration file")
	}

	if config.Backend.RequestTimeout <= 0 {
		config.Backend.RequestTimeout = 15 * time.Second
	}

	if config.Covers.RequestTimeout <= 0 {
		config.Covers.RequestTimeout = 10 * time.Second
	}

	if len(config.Covers.BaseURL) == 0 {
		config.Covers.BaseURL = "https://www.googleapis.com/books/v1"
	}

	if len(config.Auth.Role) == 0 {
		config.Auth.Role = RoleViewer
	}

	if config.Library.PerPage < 1 {
		config.Library.PerPage = DefaultPerPage
	}

	return nil
}

// LoadAndInitConfigs loads in order the configs from various predefined
// sources then builds the app configuration data.
func LoadAndInitConfigs(gitCommit, gitTag, buildTime string) (*Config, error) {
	// Setup the yaml configuration from file.
	config, err := LoadConfigFile("./config.yml")
	if err != nil {
		return config, fmt.Errorf("failed to load configurations from file: %s", err)
	}

	// Set the environment configuration. The env file is optional.
	if err = godotenv.Load("./config.env"); err != nil && !os.IsNotExist(err) {
		return config, fmt.Errorf("failed to set environment configurations: %s", err)
	}

	// Use environment variables with prefix `MLA`.
	if err = LoadConfigEnvs("MLA", config); err != nil {
		return config, fmt.Errorf("failed to load configurations from environment: %s", err)
	}

	if err = InitConfig(config, gitCommit, gitTag, buildTime); err != nil {
		return config, fmt.Errorf("failed to initialize configurations: %s", err)
	}
	return config, nil
}
