package config

import (
	"time"

	"github.com/Netflix/go-env"
	"github.com/ecotrend/dispensing-gateway/pkg/logger"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

const ConfigTagName = "env"
const ConfigDefaultTagName = "default"

var config *Config

// Configuration This struct holds config envs and values
// which are used in the gateway. Only this struct must be used
// to hold any configuration values, no direct access to
// env, ini or any other config source should be made
type Config struct {
	AppEnv              string `env:"APP_ENV" default:"dev"`
	AppName             string `env:"APP_NAME" default:"dispensing_gateway"`
	AppDebug            bool   `env:"APP_DEBUG" default:"1"`
	AppDebugMetricsAddr string `env:"APP_DEBUG_METRIC_ADDR"`
	AppDebugMetricsURI  string `env:"APP_DEBUG_METRIC_URI"`
	AppBaseUrl          string `env:"APP_BASE_URL"`

	HttpListenAddr            string `env:"HTTP_LISTEN_ADDR" validation:"mustExists"`
	HttpServerReadTimeout     int    `env:"HTTP_SERVER_READ_TIMEOUT"`
	HttpServerWriteTimeout    int    `env:"HTTP_SERVER_WRITE_TIMEOUT"`
	HttpServerReadBufferSize  int    `env:"HTTP_SERVER_READ_BUFFER_SIZE"`
	HttpServerWriteBufferSize int    `env:"HTTP_SERVER_WRITE_BUFFER_SIZE"`

	PostgresReadHost     string `env:"POSTGRES_READ_HOST"`
	PostgresReadPort     string `env:"POSTGRES_READ_PORT"`
	PostgresReadUser     string `env:"POSTGRES_READ_USER"`
	PostgresReadPassword string `env:"POSTGRES_READ_PASSWORD"`
	PostgresReadDatabase string `env:"POSTGRES_READ_DBNAME"`

	PostgresWriteHost     string `env:"POSTGRES_WRITE_HOST"`
	PostgresWritePort     string `env:"POSTGRES_WRITE_PORT"`
	PostgresWriteUser     string `env:"POSTGRES_WRITE_USER"`
	PostgresWritePassword string `env:"POSTGRES_WRITE_PASSWORD"`
	PostgresWriteDatabase string `env:"POSTGRES_WRITE_DBNAME"`

	RedisAddr               string `env:"REDIS_ADDR"`
	RedisUsername           string `env:"REDIS_USER"`
	RedisPassword           string `env:"REDIS_PASS"`
	RedisDatabase           int    `env:"REDIS_DATABASE"`
	RedisUniversalKeyPrefix string `env:"REDIS_UNIVERSAL_KEY_PREFIX"`

	PromNamespace string `env:"PROM_NAMESPACE"`

	ProfilerEnable bool `env:"PROFILER_ENABLE"`
	ProfilerPort   int  `env:"PROFILER_PORT"`

	LogLevel []string `env:"LOG_LEVEL"`

	// direct (flow-state sessions) or balance (legacy top-up)
	PaymentMode string `env:"PAYMENT_MODE" default:"direct"`

	KaspiQRBaseUrl   string        `env:"KASPI_QR_BASE_URL" default:"https://pay.kaspi.kz/payment"`
	KaspiServiceName string        `env:"KASPI_SERVICE_NAME" default:"CHEMICAL_DISPENSING"`
	KaspiApiUrl      string        `env:"KASPI_API_URL"`
	KaspiApiTimeout  time.Duration `env:"KASPI_API_TIMEOUT" default:"5s"`

	TelemetryTimeout time.Duration `env:"TELEMETRY_TIMEOUT" default:"2s"`

	CommandQueueName              string        `env:"COMMAND_QUEUE_NAME" default:"dispense:commands"`
	CommandQueueConsumerGroup     string        `env:"COMMAND_QUEUE_CONSUMER_GROUP" default:"agents"`
	CommandQueueConsumerName      string        `env:"COMMAND_QUEUE_CONSUMER_NAME"`
	CommandQueueMaxRetries        int           `env:"COMMAND_QUEUE_MAX_RETRIES" default:"3"`
	CommandQueueVisibilityTimeout time.Duration `env:"COMMAND_QUEUE_VISIBILITY_TIMEOUT" default:"30s"`
	CommandQueuePollInterval      time.Duration `env:"COMMAND_QUEUE_POLL_INTERVAL" default:"100ms"`
	CommandQueueBatchSize         int64         `env:"COMMAND_QUEUE_BATCH_SIZE" default:"10"`
	CommandQueueMaxLen            int64         `env:"COMMAND_QUEUE_MAX_LEN"`
	CommandQueueEnableDLQ         bool          `env:"COMMAND_QUEUE_ENABLE_DLQ" default:"1"`
}

func Load(path string) error {
	logger.Info("loading configs..", "path", path)
	c := &Config{}
	var err error
	if path != "" {
		logger.Info("trying to publish env from file", "path", path)
		err = godotenv.Load(path)
		if err != nil {
			return errors.New("failed to load configuration file " + path + " error: " + err.Error())
		}
	}

	_, err = env.UnmarshalFromEnviron(c)

	if err != nil {
		return errors.New("failed to map env variables to Configuration object " + " error: " + err.Error())
	}

	config = c
	return nil
}

func Get() *Config {
	if config == nil {
		logger.Panic("Config is not initialized")
	}
	return config
}
