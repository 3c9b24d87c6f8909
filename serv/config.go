package serv

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/edmongo/edmongo/core"
	"github.com/edmongo/edmongo/serv/internal/util"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
)

type Core = core.Config

// Configuration for the edmongo service
type Config struct {
	// Configuration for the path resolution engine
	Core `mapstructure:",squash" jsonschema:"title=Engine Configuration"`

	// Configuration for the HTTP service
	Serv `mapstructure:",squash" jsonschema:"title=Service Configuration"`

	hostPort string
	viper    *viper.Viper
}

// Configuration for the HTTP service
type Serv struct {
	// Application name is used in log and debug messages
	AppName string `mapstructure:"app_name" jsonschema:"title=Application Name"`

	// When enabled logs default to JSON
	Production bool `jsonschema:"title=Production Mode,default=false"`

	// The default path to find all configuration and mapping files
	ConfigPath string `mapstructure:"config_path" jsonschema:"title=Config Path"`

	// Logging level must be one of debug, error, warn, info
	LogLevel string `mapstructure:"log_level" jsonschema:"title=Log Level,enum=debug,enum=error,enum=warn,enum=info"`

	// Logging Format: "auto" (default, colored console in dev, JSON in production),
	// "json" (always JSON), or "simple" (always colored console)
	LogFormat string `mapstructure:"log_format" jsonschema:"title=Logging Format,enum=auto,enum=json,enum=simple"`

	// The host and port the service runs on. Example localhost:8080
	HostPort string `mapstructure:"host_port" jsonschema:"title=Host and Port"`

	// Host to run the service on
	Host string `jsonschema:"title=Host"`

	// Port to run the service on
	Port string `jsonschema:"title=Port"`

	// Enable OpenTelemetry request tracing
	EnableTracing bool `mapstructure:"enable_tracing" jsonschema:"title=Enable Tracing,default=false"`

	// Sets the HTTP CORS Access-Control-Allow-Origin header
	AllowedOrigins []string `mapstructure:"cors_allowed_origins" jsonschema:"title=HTTP CORS Allowed Origins"`

	// Sets the HTTP CORS Access-Control-Allow-Headers header
	AllowedHeaders []string `mapstructure:"cors_allowed_headers" jsonschema:"title=HTTP CORS Allowed Headers"`

	// Enables debug logs for CORS
	DebugCORS bool `mapstructure:"cors_debug" jsonschema:"title=Log CORS"`

	// MongoDB used by the explain API
	Mongo Mongo `mapstructure:"mongo" jsonschema:"title=MongoDB"`
}

// MongoDB connection settings. Explain is disabled when URI is empty
type Mongo struct {
	URI      string `mapstructure:"uri" jsonschema:"title=Connection URI"`
	Database string `jsonschema:"title=Database Name"`

	// Timeout for connecting and for the health check ping
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" jsonschema:"title=Connect Timeout"`
}

// ReadInConfig function reads in the config file for the environment specified in the GO_ENV
// environment variable. This is the best way to create a new edmongo config.
func ReadInConfig(configFile string) (*Config, error) {
	return readInConfig(configFile, nil)
}

// ReadInConfigFS is the same as ReadInConfig but it also takes a filesytem as an argument
func ReadInConfigFS(configFile string, fs afero.Fs) (*Config, error) {
	return readInConfig(configFile, fs)
}

func readInConfig(configFile string, fs afero.Fs) (*Config, error) {
	cp := filepath.Dir(configFile)
	vi := newViper(cp, filepath.Base(configFile))

	if fs != nil {
		vi.SetFs(fs)
	}

	// a name with an extension is read as is, otherwise the config path
	// is searched for any supported format
	if filepath.Ext(configFile) != "" {
		vi.SetConfigFile(configFile)
	}

	if err := vi.ReadInConfig(); err != nil {
		return nil, err
	}

	for _, e := range os.Environ() {
		if strings.HasPrefix(e, envPrefix) {
			kv := strings.SplitN(e, "=", 2)
			util.SetKeyValue(vi, kv[0], kv[1])
		}
	}

	config := &Config{viper: vi}

	if err := vi.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to decode config, %v", err)
	}

	if config.ConfigPath == "" {
		config.ConfigPath = cp
	}

	return config, nil
}

// NewConfig function creates a new edmongo configuration from the provided config string
func NewConfig(config, format string) (*Config, error) {
	if format == "" {
		format = "yaml"
	}

	vi := newViperWithDefaults()
	vi.SetConfigType(format)

	if err := vi.ReadConfig(strings.NewReader(config)); err != nil {
		return nil, err
	}

	c := &Config{viper: vi}

	if err := vi.Unmarshal(c); err != nil {
		return nil, fmt.Errorf("failed to decode config, %v", err)
	}

	return c, nil
}

const envPrefix = "EDM_"

// newViperWithDefaults returns a new viper instance with the default settings
func newViperWithDefaults() *viper.Viper {
	vi := viper.New()

	vi.SetDefault("host_port", defaultHP)
	vi.SetDefault("enable_tracing", false)

	vi.SetDefault("log_level", "info")
	vi.SetDefault("log_format", "auto")

	vi.SetDefault("mongo_path_max_depth", 0)
	vi.SetDefault("max_circular_limit_per_edm_path", 0)
	vi.SetDefault("max_circular_limit_for_all_edm_paths", 0)
	vi.SetDefault("leaves_only", false)
	vi.SetDefault("cache_size", 100)
	vi.SetDefault("watch_mappings", false)

	vi.SetDefault("mongo.uri", "")
	vi.SetDefault("mongo.database", "")
	vi.SetDefault("mongo.connect_timeout", "10s")

	vi.SetDefault("env", "development")

	vi.BindEnv("env", "GO_ENV") //nolint:errcheck
	vi.BindEnv("host", "HOST")  //nolint:errcheck
	vi.BindEnv("port", "PORT")  //nolint:errcheck

	return vi
}

// newViper returns a new viper instance with the default settings
func newViper(configPath, configFile string) *viper.Viper {
	vi := newViperWithDefaults()
	vi.SetConfigName(strings.TrimSuffix(configFile, filepath.Ext(configFile)))

	if configPath == "" {
		vi.AddConfigPath("./config")
	} else {
		vi.AddConfigPath(configPath)
	}

	return vi
}

// AbsolutePath returns the absolute path of the file
func (c *Config) AbsolutePath(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.ConfigPath, p)
}

// ResolvePaths makes mapping and patch files relative to the
// config path absolute
func (c *Config) ResolvePaths() {
	for i := range c.Mappings {
		m := &c.Mappings[i]
		m.File = c.AbsolutePath(m.File)
		for j := range m.Patches {
			m.Patches[j].File = c.AbsolutePath(m.Patches[j].File)
		}
	}
}

// ShouldUseJSONLogs returns true if logs should be in JSON format.
// Returns true if log_format is "json" OR if log_format is "auto" and production mode is enabled.
// Returns false otherwise (colored console output for dev mode).
func (c *Config) ShouldUseJSONLogs() bool {
	if c.LogFormat == "json" {
		return true
	}
	if c.LogFormat == "auto" && c.Serv.Production {
		return true
	}
	return false
}

// GetConfigName returns the name of the configuration
func GetConfigName() string {
	goEnv := strings.TrimSpace(strings.ToLower(os.Getenv("GO_ENV")))

	switch goEnv {
	case "production", "prod":
		return "prod"

	case "staging", "stage":
		return "stage"

	case "testing", "test":
		return "test"

	case "development", "dev", "":
		return "dev"

	default:
		return goEnv
	}
}
