package config

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/vault-client-go"
	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var config = viper.New()

type Config struct {
	AppEnv     string `mapstructure:"APP_ENV"`
	AppName    string `mapstructure:"APP_NAME"`
	AppVersion string `mapstructure:"APP_VERSION"`
	TLS        struct {
		Enable   bool   `mapstructure:"ENABLE"`
		CertPath string `mapstructure:"CERT_PATH"`
		KeyPath  string `mapstructure:"KEY_PATH"`
	} `mapstructure:"TLS"`
	Otel struct {
		Addr string `mapstructure:"ADDR"`
	} `mapstructure:"OTEL"`
	Server struct {
		Addr         string        `mapstructure:"ADDR"`
		ReadTimeout  time.Duration `mapstructure:"READ_TIMEOUT"`
		WriteTimeout time.Duration `mapstructure:"WRITE_TIMEOUT"`
		IdleTimeout  time.Duration `mapstructure:"IDLE_TIMEOUT"`
	} `mapstructure:"HTTP_SERVER"`
	Database struct {
		Type           string `mapstructure:"TYPE"`
		Host           string `mapstructure:"HOST"`
		Port           string `mapstructure:"PORT"`
		DBNAME         string `mapstructure:"DBNAME"`
		User           string `mapstructure:"USER"`
		Password       string `mapstructure:"PASSWORD"`
		SSLMode        string `mapstructure:"SSLMODE"`
		Timezone       string `mapstructure:"TIMEZONE"`
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
	Kafka struct {
		Addrs      string `mapstructure:"ADDR"`
		FraudTopic string `mapstructure:"FRAUD_TOPIC"`
	} `mapstructure:"KAFKA"`
	YouTube struct {
		APIKey     string        `mapstructure:"API_KEY"`
		BaseURL    string        `mapstructure:"BASE_URL"`
		QuotaLimit int64         `mapstructure:"QUOTA_LIMIT"`
		Timeout    time.Duration `mapstructure:"TIMEOUT"`
	} `mapstructure:"YOUTUBE"`
	Stripe struct {
		SecretKey          string `mapstructure:"SECRET_KEY"`
		Currency           string `mapstructure:"CURRENCY"`
		PlatformFeePercent int64  `mapstructure:"PLATFORM_FEE_PERCENT"`
	} `mapstructure:"STRIPE"`
	Fraud struct {
		MaxGrowthPercent   float64       `mapstructure:"MAX_GROWTH_PERCENT"`
		MaxHourlyViews     int64         `mapstructure:"MAX_HOURLY_VIEWS"`
		MinTrustScore      int           `mapstructure:"MIN_TRUST_SCORE"`
		AvgFraudScoreLimit float64       `mapstructure:"AVG_FRAUD_SCORE_LIMIT"`
		FlagMinScore       int           `mapstructure:"FLAG_MIN_SCORE"`
		FlagMinReasons     int           `mapstructure:"FLAG_MIN_REASONS"`
		QuotaAbortPercent  float64       `mapstructure:"QUOTA_ABORT_PERCENT"`
		PayoutHoldWindow   time.Duration `mapstructure:"PAYOUT_HOLD_WINDOW"`
	} `mapstructure:"FRAUD"`
	Jobs struct {
		ReconcileBatchSize int `mapstructure:"RECONCILE_BATCH_SIZE"`
		RefreshBatchSize   int `mapstructure:"REFRESH_BATCH_SIZE"`
		PayoutBatchSize    int `mapstructure:"PAYOUT_BATCH_SIZE"`
		AggregateHour      int `mapstructure:"AGGREGATE_HOUR"`
		AggregateMinute    int `mapstructure:"AGGREGATE_MINUTE"`
	} `mapstructure:"JOBS"`
}

var Module = fx.Module("config", fx.Provide(LoadConfig))

type Params struct {
	fx.In
	Vault *vault.Client `optional:"true"`
}

func LoadConfig(p Params) *Config {

	config.SetConfigName("config")
	config.SetConfigType("yaml")
	config.AddConfigPath(".")

	config.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	config.AutomaticEnv()

	setDefaults()

	if err := config.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			os.Exit(1)
		}
	}

	var cfg Config
	if err := config.Unmarshal(&cfg); err != nil {
		os.Exit(1)
	}

	if p.Vault != nil {
		client := p.Vault
		ctx := context.Background()

		zap.L().Info("Starting Get Secrets", zap.String("path", cfg.AppEnv))
		secret, err := client.Secrets.KvV2Read(ctx, cfg.AppEnv, vault.WithMountPath("secret"))
		if err != nil {
			zap.L().Error("failed get secret from vault", zap.Error(err))
			os.Exit(1)
		}
		zap.L().Info("Success Get Secret")

		get := func(key string) string {
			if val, ok := secret.Data.Data[key].(string); ok {
				return val
			}
			return ""
		}

		cfg.Database.User = get("postgres_user")
		cfg.Database.Password = get("postgres_password")
		cfg.Redis.Password = get("redis_password")
		cfg.YouTube.APIKey = get("youtube_api_key")
		cfg.Stripe.SecretKey = get("stripe_secret_key")
	}

	return &cfg
}

func setDefaults() {
	config.SetDefault("YOUTUBE.BASE_URL", "https://www.googleapis.com/youtube/v3")
	config.SetDefault("YOUTUBE.QUOTA_LIMIT", 10000)
	config.SetDefault("YOUTUBE.TIMEOUT", 10*time.Second)
	config.SetDefault("STRIPE.CURRENCY", "usd")
	config.SetDefault("STRIPE.PLATFORM_FEE_PERCENT", 10)
	config.SetDefault("KAFKA.FRAUD_TOPIC", "fraud.signals")
	config.SetDefault("FRAUD.MAX_GROWTH_PERCENT", 300)
	config.SetDefault("FRAUD.MAX_HOURLY_VIEWS", 10000)
	config.SetDefault("FRAUD.MIN_TRUST_SCORE", 30)
	config.SetDefault("FRAUD.AVG_FRAUD_SCORE_LIMIT", 50)
	config.SetDefault("FRAUD.FLAG_MIN_SCORE", 5)
	config.SetDefault("FRAUD.FLAG_MIN_REASONS", 5)
	config.SetDefault("FRAUD.QUOTA_ABORT_PERCENT", 80)
	config.SetDefault("FRAUD.PAYOUT_HOLD_WINDOW", 7*24*time.Hour)
	config.SetDefault("JOBS.RECONCILE_BATCH_SIZE", 50)
	config.SetDefault("JOBS.REFRESH_BATCH_SIZE", 50)
	config.SetDefault("JOBS.PAYOUT_BATCH_SIZE", 25)
	config.SetDefault("JOBS.AGGREGATE_HOUR", 1)
	config.SetDefault("JOBS.AGGREGATE_MINUTE", 0)
}
