package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hashicorp/vault-client-go"
	"github.com/spf13/viper"
	_ "github.com/spf13/viper/remote"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var (
	config       = viper.New()
	configHolder atomic.Value
	backend      = "consul"
	backendAddr  = "127.0.0.1:8500"
	backendPath  = "development" // e.g., app/<env>/<service_name>
	configType   = "yaml"
)

type Config struct {
	AppEnv       string `mapstructure:"APP_ENV"`
	AppName      string `mapstructure:"APP_NAME"`
	AppVersion   string `mapstructure:"APP_VERSION"`
	AppNamespace string `mapstructure:"APP_NAMESPACE"`
	TLS          struct {
		Enable   bool   `mapstructure:"ENABLE"`
		CertPath string `mapstructure:"CERT_PATH"`
		KeyPath  string `mapstructure:"KEY_PATH"`
	} `mapstructure:"TLS"`
	Otel struct {
		Addr     string `mapstructure:"ADDR"`
		Protocol string `mapstructure:"PROTOCOL"` // grpc | http
	} `mapstructure:"OTEL"`
	Pyroscope struct {
		Addr string `mapstructure:"ADDR"`
	} `mapstructure:"PYROSCOPE"`
	Server struct {
		Addr         string        `mapstructure:"ADDR"`
		ReadTimeout  time.Duration `mapstructure:"READ_TIMEOUT"`
		WriteTimeout time.Duration `mapstructure:"WRITE_TIMEOUT"`
		IdleTimeout  time.Duration `mapstructure:"IDLE_TIMEOUT"`
	} `mapstructure:"HTTP_SERVER"`
	Grpc struct {
		Addr string `mapstructure:"ADDR"`
	} `mapstructure:"GRPC_SERVER"`
	Database struct {
		Type           string `mapstructure:"TYPE"`
		Host           string `mapstructure:"HOST"`
		Port           string `mapstructure:"PORT"`
		DBNAME         string `mapstructure:"DBNAME"`
		User           string `mapstructure:"USER"`
		Password       string `mapstructure:"PASSWORD"`
		SSLMode        string `mapstructure:"SSLMODE"`
		Timezone       string `mapstructure:"TIMEZONE"`
		Metrics        bool   `mapstructure:"METRICS"`
		AutoMigrate    bool   `mapstructure:"AUTO_MIGRATE"`
		ConnectionPool struct {
			MaxIdleConn     int           `mapstructure:"MAX_IDLE_CONN"`
			MaxOpenConns    int           `mapstructure:"MAX_OPEN_CONNS"`
			ConnMaxLifetime time.Duration `mapstructure:"CONN_MAX_LIFETIME"`
			ConnMaxIdleTime time.Duration `mapstructure:"CONN_MAX_IDLE_TIME"`
		} `mapstructure:"CONNECTION_POOL"`
	} `mapstructure:"DATABASE"`
	Redis struct {
		Addr        string        `mapstructure:"ADDR"`
		Password    string        `mapstructure:"PASSWORD"`
		DB          int           `mapstructure:"DB"`
		PoolSize    int           `mapstructure:"POOL_SIZE"`
		PoolTimeout time.Duration `mapstructure:"POOL_TIMEOUT"`
	} `mapstructure:"REDIS"`

	// Platform holds the shared secret the control plane presents to
	// instances (license push) and requires on its admin endpoints.
	Platform struct {
		APIKey string `mapstructure:"API_KEY"`
	} `mapstructure:"PLATFORM"`

	License struct {
		SigningKey              string        `mapstructure:"SIGNING_KEY"`
		RefreshDaysBeforeExpiry int           `mapstructure:"REFRESH_DAYS_BEFORE_EXPIRY"`
		RefreshSchedule         string        `mapstructure:"REFRESH_SCHEDULE"`
		RefreshConcurrency      int           `mapstructure:"REFRESH_CONCURRENCY"`
		PushTimeout             time.Duration `mapstructure:"PUSH_TIMEOUT"`
		PushMaxRetry            int           `mapstructure:"PUSH_MAX_RETRY"`
	} `mapstructure:"LICENSE"`

	Usage struct {
		SigningKey            string `mapstructure:"SIGNING_KEY"`
		RequireValidSignature bool   `mapstructure:"REQUIRE_VALID_SIGNATURE"`
	} `mapstructure:"USAGE"`

	// Flagsmith supplies per-tenant license feature overrides.
	Flagsmith struct {
		Addr   string `mapstructure:"ADDR"`
		ApiKey string `mapstructure:"API_KEY"`
	} `mapstructure:"FLAGSMITH"`

	// Instance configures the ISP-instance side (enforcer, monitor, reporter).
	Instance struct {
		TenantID         string        `mapstructure:"TENANT_ID"`
		ControlPlaneURL  string        `mapstructure:"CONTROL_PLANE_URL"`
		APIKey           string        `mapstructure:"API_KEY"`
		RefreshWindow    time.Duration `mapstructure:"REFRESH_WINDOW"`
		PullInterval     time.Duration `mapstructure:"PULL_INTERVAL"`
		MonitorSchedule  string        `mapstructure:"MONITOR_SCHEDULE"`
		OverCapMarkerTTL time.Duration `mapstructure:"OVER_CAP_MARKER_TTL"`
		RequestTimeout   time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	} `mapstructure:"INSTANCE"`
}

var Module = fx.Module("config", fx.Provide(LoadConfig))
var RemoteModule = fx.Module("remote.config", fx.Provide(LoadRemote))

// Select returns RemoteModule when REMOTE_CONFIG_PROVIDER is set and the
// file/env based Module otherwise.
func Select() fx.Option {
	if _, ok := os.LookupEnv("REMOTE_CONFIG_PROVIDER"); ok {
		return RemoteModule
	}
	return Module
}

type Params struct {
	fx.In
	Vault *vault.Client `optional:"true"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("APP_NAME", "ispbss")
	v.SetDefault("APP_VERSION", "dev")
	v.SetDefault("APP_NAMESPACE", "")
	v.SetDefault("TLS.ENABLE", false)
	v.SetDefault("TLS.CERT_PATH", "")
	v.SetDefault("TLS.KEY_PATH", "")
	v.SetDefault("OTEL.ADDR", "")
	v.SetDefault("OTEL.PROTOCOL", "grpc")
	v.SetDefault("PYROSCOPE.ADDR", "")
	v.SetDefault("HTTP_SERVER.ADDR", "8080")
	v.SetDefault("HTTP_SERVER.READ_TIMEOUT", 15*time.Second)
	v.SetDefault("HTTP_SERVER.WRITE_TIMEOUT", 15*time.Second)
	v.SetDefault("HTTP_SERVER.IDLE_TIMEOUT", 60*time.Second)
	v.SetDefault("GRPC_SERVER.ADDR", "9090")
	v.SetDefault("DATABASE.TYPE", "postgres")
	v.SetDefault("DATABASE.HOST", "127.0.0.1")
	v.SetDefault("DATABASE.PORT", "5432")
	v.SetDefault("DATABASE.DBNAME", "ispbss")
	v.SetDefault("DATABASE.USER", "")
	v.SetDefault("DATABASE.PASSWORD", "")
	v.SetDefault("DATABASE.SSLMODE", "disable")
	v.SetDefault("DATABASE.TIMEZONE", "UTC")
	v.SetDefault("DATABASE.METRICS", false)
	v.SetDefault("DATABASE.AUTO_MIGRATE", true)
	v.SetDefault("DATABASE.CONNECTION_POOL.MAX_IDLE_CONN", 5)
	v.SetDefault("DATABASE.CONNECTION_POOL.MAX_OPEN_CONNS", 20)
	v.SetDefault("DATABASE.CONNECTION_POOL.CONN_MAX_LIFETIME", time.Hour)
	v.SetDefault("DATABASE.CONNECTION_POOL.CONN_MAX_IDLE_TIME", 10*time.Minute)
	v.SetDefault("REDIS.ADDR", "127.0.0.1:6379")
	v.SetDefault("REDIS.PASSWORD", "")
	v.SetDefault("REDIS.DB", 0)
	v.SetDefault("REDIS.POOL_SIZE", 10)
	v.SetDefault("REDIS.POOL_TIMEOUT", 4*time.Second)
	v.SetDefault("PLATFORM.API_KEY", "")
	v.SetDefault("LICENSE.SIGNING_KEY", "")
	v.SetDefault("LICENSE.REFRESH_DAYS_BEFORE_EXPIRY", 7)
	v.SetDefault("LICENSE.REFRESH_SCHEDULE", "0 1 * * *")
	v.SetDefault("LICENSE.REFRESH_CONCURRENCY", 4)
	v.SetDefault("LICENSE.PUSH_TIMEOUT", 30*time.Second)
	v.SetDefault("LICENSE.PUSH_MAX_RETRY", 5)
	v.SetDefault("USAGE.SIGNING_KEY", "")
	v.SetDefault("USAGE.REQUIRE_VALID_SIGNATURE", true)
	v.SetDefault("FLAGSMITH.ADDR", "")
	v.SetDefault("FLAGSMITH.API_KEY", "")
	v.SetDefault("INSTANCE.TENANT_ID", "")
	v.SetDefault("INSTANCE.CONTROL_PLANE_URL", "")
	v.SetDefault("INSTANCE.API_KEY", "")
	v.SetDefault("INSTANCE.REFRESH_WINDOW", time.Hour)
	v.SetDefault("INSTANCE.PULL_INTERVAL", 5*time.Minute)
	v.SetDefault("INSTANCE.MONITOR_SCHEDULE", "@every 10m")
	v.SetDefault("INSTANCE.OVER_CAP_MARKER_TTL", time.Hour)
	v.SetDefault("INSTANCE.REQUEST_TIMEOUT", 30*time.Second)
}

// Load reads config.yaml from the given paths (working directory when none),
// overlays environment variables and unmarshals the result. A missing config
// file is not an error; defaults and env still apply.
func Load(v *viper.Viper, paths ...string) (*Config, error) {
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType(configType)
	if len(paths) == 0 {
		paths = []string{"."}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

func LoadConfig(p Params) *Config {
	cfg, err := Load(config)
	if err != nil {
		zap.L().Error("failed to load config", zap.Error(err))
		os.Exit(1)
	}

	if p.Vault != nil {
		if err := applyVaultSecrets(context.Background(), p.Vault, cfg); err != nil {
			zap.L().Error("failed get secret from vault", zap.Error(err))
			os.Exit(1)
		}
	}

	configHolder.Store(cfg)
	return cfg
}

func LoadRemote(p Params) *Config {
	if p.Vault == nil {
		zap.L().Error("vault can't provide")
		os.Exit(1)
	}

	if v, ok := os.LookupEnv("REMOTE_CONFIG_PROVIDER"); ok {
		backend = v
	}

	if v, ok := os.LookupEnv("REMOTE_CONFIG_ADDR"); ok {
		backendAddr = v
	}

	if v, ok := os.LookupEnv("REMOTE_CONFIG_PATH"); ok {
		backendPath = v
	}

	setDefaults(config)
	config.SetConfigType(configType)
	if err := config.AddRemoteProvider(backend, backendAddr, backendPath); err != nil {
		os.Exit(1)
	}

	if err := config.ReadRemoteConfig(); err != nil {
		os.Exit(1)
	}

	var cfg Config
	if err := config.Unmarshal(&cfg); err != nil {
		os.Exit(1)
	}

	if err := applyVaultSecrets(context.Background(), p.Vault, &cfg); err != nil {
		zap.L().Error("failed get secret from vault", zap.Error(err))
		os.Exit(1)
	}
	configHolder.Store(&cfg)

	go func() {
		for {
			time.Sleep(time.Second * 5)

			if err := config.WatchRemoteConfig(); err != nil {
				zap.L().Error("unable to read remote config", zap.Error(err))
				continue
			}

			var newcfg Config
			if err := config.Unmarshal(&newcfg); err != nil {
				zap.L().Error("unable to unmarshal remote config", zap.Error(err))
				continue
			}
			// secrets never live in the remote provider
			newcfg.License.SigningKey = cfg.License.SigningKey
			newcfg.Usage.SigningKey = cfg.Usage.SigningKey
			newcfg.Platform.APIKey = cfg.Platform.APIKey
			newcfg.Instance.APIKey = cfg.Instance.APIKey
			newcfg.Flagsmith.ApiKey = cfg.Flagsmith.ApiKey
			newcfg.Database.User = cfg.Database.User
			newcfg.Database.Password = cfg.Database.Password
			newcfg.Redis.Password = cfg.Redis.Password
			configHolder.Store(&newcfg)
		}
	}()

	return &cfg
}

// Current returns the most recently loaded configuration.
func Current() *Config {
	cfg, _ := configHolder.Load().(*Config)
	return cfg
}

func applyVaultSecrets(ctx context.Context, client *vault.Client, cfg *Config) error {
	zap.L().Info("Starting Get Secrets", zap.String("path", cfg.AppEnv))
	secret, err := client.Secrets.KvV2Read(ctx, cfg.AppEnv, vault.WithMountPath("secret"))
	if err != nil {
		return err
	}
	zap.L().Info("Success Get Secret")

	applySecrets(cfg, func(key string) string {
		if val, ok := secret.Data.Data[key].(string); ok {
			return val
		}
		return ""
	})
	return nil
}

// applySecrets overrides secret fields with non-empty values from get.
func applySecrets(cfg *Config, get func(key string) string) {
	set := func(dst *string, key string) {
		if v := get(key); v != "" {
			*dst = v
		}
	}

	set(&cfg.Database.User, "postgres_user")
	set(&cfg.Database.Password, "postgres_password")
	set(&cfg.Redis.Password, "redis_password")
	set(&cfg.License.SigningKey, "license_signing_key")
	set(&cfg.Usage.SigningKey, "usage_signing_key")
	set(&cfg.Platform.APIKey, "platform_api_key")
	set(&cfg.Instance.APIKey, "instance_api_key")
	set(&cfg.Flagsmith.ApiKey, "flagsmith_api_key")
}
