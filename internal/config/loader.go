package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Logger    LoggerConfig    `mapstructure:"logger"`
	Security  SecurityConfig  `mapstructure:"security"`
	Features  FeaturesConfig  `mapstructure:"features"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Docker    DockerConfig    `mapstructure:"docker"`
	Apps      AppsConfig      `mapstructure:"apps"`
	Readiness ReadinessConfig `mapstructure:"readiness"`
	Tasks     TasksConfig     `mapstructure:"tasks"`
}

type SecurityConfig struct {
	EncryptionKey string `mapstructure:"encryption_key"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type DatabaseConfig struct {
	// Driver is "sqlite" (single box default) or "postgres".
	Driver          string        `mapstructure:"driver"`
	Path            string        `mapstructure:"path"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
	)
}

type LoggerConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

type FeaturesConfig struct {
	// EnableLocks serializes tasks that target the same application.
	EnableLocks          bool   `mapstructure:"enable_locks"`
	RequestIDHeader      string `mapstructure:"request_id_header"`
	EnableRequestLogging bool   `mapstructure:"enable_request_logging"`
}

type AuthConfig struct {
	AdminAPIKey    string   `mapstructure:"admin_api_key"`
	AdminActor     string   `mapstructure:"admin_actor"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type DockerConfig struct {
	Host             string        `mapstructure:"host"`
	InternalNetwork  string        `mapstructure:"internal_network"`
	StopGracePeriod  time.Duration `mapstructure:"stop_grace_period"`
	ProxyPingURL     string        `mapstructure:"proxy_ping_url"`
	ProxyInternalURL string        `mapstructure:"proxy_internal_url"`
}

// AppsConfig holds the defaults for integration settings that the user has
// not saved yet.
type AppsConfig struct {
	MediaPath          string `mapstructure:"media_path"`
	DownloadsPath      string `mapstructure:"downloads_path"`
	DockerDataPath     string `mapstructure:"docker_data_path"`
	Timezone           string `mapstructure:"timezone"`
	JellyfinHostPort   int    `mapstructure:"jellyfin_host_port"`
	QBWebPort          int    `mapstructure:"qb_web_port"`
	QBPeerPort         int    `mapstructure:"qb_peer_port"`
	PortainerHostPort  int    `mapstructure:"portainer_host_port"`
	WatchtowerInterval int    `mapstructure:"watchtower_interval"`
	JellyfinBaseURL    string `mapstructure:"jellyfin_base_url"`
	JellyfinAPIKey     string `mapstructure:"jellyfin_api_key"`
	JellyfinUserID     string `mapstructure:"jellyfin_user_id"`
	QBBaseURL          string `mapstructure:"qb_base_url"`
	QBUsername         string `mapstructure:"qb_username"`
	QBPassword         string `mapstructure:"qb_password"`
	// MinFreeBytes fails the install environment check below this much free space.
	MinFreeBytes uint64 `mapstructure:"min_free_bytes"`
}

type ReadinessConfig struct {
	PollInterval        time.Duration `mapstructure:"poll_interval"`
	RequestTimeout      time.Duration `mapstructure:"request_timeout"`
	RunningTimeout      time.Duration `mapstructure:"running_timeout"`
	RunningPollInterval time.Duration `mapstructure:"running_poll_interval"`
	HTTPTimeout         time.Duration `mapstructure:"http_timeout"`
}

type TasksConfig struct {
	DefaultListLimit int `mapstructure:"default_list_limit"`
	MaxListLimit     int `mapstructure:"max_list_limit"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8081)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "data/sqlite/arknas.db")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.conn_max_lifetime", time.Hour)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.encoding", "console")
	v.SetDefault("logger.output_paths", []string{"stdout"})
	v.SetDefault("logger.error_output_paths", []string{"stderr"})

	v.SetDefault("features.enable_locks", false)
	v.SetDefault("features.request_id_header", "X-Request-ID")
	v.SetDefault("features.enable_request_logging", true)

	v.SetDefault("security.encryption_key", "")

	v.SetDefault("auth.admin_api_key", "")
	v.SetDefault("auth.admin_actor", "admin")
	v.SetDefault("auth.allowed_origins", []string{"http://localhost:3000"})

	v.SetDefault("docker.host", "tcp://docker-proxy:2375")
	v.SetDefault("docker.internal_network", "arknas-internal")
	v.SetDefault("docker.stop_grace_period", 10*time.Second)
	v.SetDefault("docker.proxy_ping_url", "http://docker-proxy:2375/_ping")
	v.SetDefault("docker.proxy_internal_url", "tcp://docker-proxy:2375")

	v.SetDefault("apps.media_path", "/srv/arknas/media")
	v.SetDefault("apps.downloads_path", "/srv/arknas/downloads")
	v.SetDefault("apps.docker_data_path", "/srv/arknas/docker-data")
	v.SetDefault("apps.timezone", "Asia/Shanghai")
	v.SetDefault("apps.jellyfin_host_port", 8096)
	v.SetDefault("apps.qb_web_port", 8080)
	v.SetDefault("apps.qb_peer_port", 6881)
	v.SetDefault("apps.portainer_host_port", 9000)
	v.SetDefault("apps.watchtower_interval", 86400)
	v.SetDefault("apps.min_free_bytes", 512<<20)

	v.SetDefault("readiness.poll_interval", 1500*time.Millisecond)
	v.SetDefault("readiness.request_timeout", 3*time.Second)
	v.SetDefault("readiness.running_timeout", 30*time.Second)
	v.SetDefault("readiness.running_poll_interval", 900*time.Millisecond)
	v.SetDefault("readiness.http_timeout", 90*time.Second)

	v.SetDefault("tasks.default_list_limit", 60)
	v.SetDefault("tasks.max_list_limit", 500)
}

// Load reads the config file at path, overlaid with ARKNAS_* environment
// variables. A missing file is not an error; defaults and env apply.
func Load(path string) (*Config, error) {
	setDefaults(viper.GetViper())
	viper.SetConfigFile(path)
	viper.SetEnvPrefix("ARKNAS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Watch re-reads the config file on change and hands the fresh values to
// onChange. Only settings that are safe to swap at runtime should be
// applied by the callback.
func Watch(onChange func(*Config)) {
	viper.OnConfigChange(func(e fsnotify.Event) {
		if e.Op&fsnotify.Write == 0 {
			return
		}
		var cfg Config
		if err := viper.Unmarshal(&cfg); err != nil {
			return
		}
		onChange(&cfg)
	})
	viper.WatchConfig()
}
