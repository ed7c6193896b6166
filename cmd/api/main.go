package main

import (
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ecotrend/dispensing-gateway/internal/commands"
	"github.com/ecotrend/dispensing-gateway/internal/config"
	"github.com/ecotrend/dispensing-gateway/internal/handlers"
	"github.com/ecotrend/dispensing-gateway/internal/kaspi"
	"github.com/ecotrend/dispensing-gateway/internal/model"
	"github.com/ecotrend/dispensing-gateway/internal/repository"
	"github.com/ecotrend/dispensing-gateway/internal/services"
	"github.com/ecotrend/dispensing-gateway/internal/telemetry"
	xhttp "github.com/ecotrend/dispensing-gateway/pkg/http"
	"github.com/ecotrend/dispensing-gateway/pkg/logger"
	"github.com/ecotrend/dispensing-gateway/pkg/pg"
	"github.com/ecotrend/dispensing-gateway/pkg/prom"
	"github.com/ecotrend/dispensing-gateway/pkg/redis"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {

	err := config.Load(argContainsEnvPath())
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return
	}

	// transport (tcp for now)
	s := xhttp.NewServer(xhttp.DefaultServerOption)
	s.Server.ReadBufferSize = 1024 * 16
	s.Server.WriteBufferSize = 1024 * 16
	s.Use(xhttp.CompressMiddleware(6))
	s.Use(xhttp.TimeoutMiddleware(time.Second * 5))
	s.Use(xhttp.RequestLoggerMiddleware)
	s.Use(xhttp.RecoverMiddleware)
	s.Router = xhttp.CreateDefaultRouter()

	readConf := pg.Config{
		User:     config.Get().PostgresReadUser,
		Host:     config.Get().PostgresReadHost,
		Port:     config.Get().PostgresReadPort,
		Password: config.Get().PostgresReadPassword,
		Database: config.Get().PostgresReadDatabase,
	}
	writeConf := pg.Config{
		User:     config.Get().PostgresWriteUser,
		Host:     config.Get().PostgresWriteHost,
		Port:     config.Get().PostgresWritePort,
		Password: config.Get().PostgresWritePassword,
		Database: config.Get().PostgresWriteDatabase,
	}

	pgDebug := false
	if config.Get().AppEnv == "dev" {
		pgDebug = true
	}
	db, err := pg.CreateReadWrite(readConf, writeConf, pgDebug)
	if err != nil {
		logger.Error("failed connecting to pg", "error", err)
		return
	}

	redisAdap, err := redis.NewRedisAdapter("default", config.Get().RedisUniversalKeyPrefix, &redis.Options{
		Addrs:      []string{config.Get().RedisAddr},
		ClientName: "default",
		DB:         config.Get().RedisDatabase,
		Username:   config.Get().RedisUsername,
		Password:   config.Get().RedisPassword,
	})
	if err != nil {
		logger.Error("failed connecting to redis", "error", err)
		return
	}

	bridge := telemetry.NewBridge(redisAdap)

	commandQueue, err := commands.NewQueue(redisAdap, commands.QueueConfig{
		Name:              config.Get().CommandQueueName,
		ConsumerGroup:     config.Get().CommandQueueConsumerGroup,
		ConsumerName:      config.Get().CommandQueueConsumerName,
		MaxRetries:        config.Get().CommandQueueMaxRetries,
		VisibilityTimeout: config.Get().CommandQueueVisibilityTimeout,
		PollInterval:      config.Get().CommandQueuePollInterval,
		BatchSize:         config.Get().CommandQueueBatchSize,
		MaxLen:            config.Get().CommandQueueMaxLen,
		EnableDLQ:         config.Get().CommandQueueEnableDLQ,
	})
	if err != nil {
		logger.Error("failed creating command queue", "error", err)
		return
	}

	kaspiClient := kaspi.NewClient(kaspi.ClientConfig{
		QRBaseURL:   config.Get().KaspiQRBaseUrl,
		ServiceName: config.Get().KaspiServiceName,
		APIURL:      config.Get().KaspiApiUrl,
		Timeout:     config.Get().KaspiApiTimeout,
	})

	deviceRepo := repository.NewDeviceRepository(db)
	chemicalRepo := repository.NewChemicalRepository(db)
	flowRepo := repository.NewFlowStateRepository(db)
	transactionRepo := repository.NewTransactionRepository(db)
	balanceRepo := repository.NewBalanceRepository(db)
	dispensingRepo := repository.NewDispensingRepository(db)

	// services
	deviceService := services.NewDeviceService(deviceRepo, chemicalRepo, balanceRepo, bridge)
	dispensingService := services.NewDispensingService(deviceRepo, chemicalRepo, flowRepo, transactionRepo, dispensingRepo)
	balanceService := services.NewBalanceService(balanceRepo, transactionRepo, bridge)
	kaspiService := services.NewKaspiService(
		deviceRepo,
		chemicalRepo,
		flowRepo,
		transactionRepo,
		balanceRepo,
		bridge,
		commandQueue,
		bridge,
		kaspiClient,
		model.PaymentMode(config.Get().PaymentMode),
	)
	healthService := services.NewHealthService(db, redisAdap)

	// v1 handlers
	deviceHandler := handlers.NewDeviceHandler(deviceService)
	dispensingHandler := handlers.NewDispensingHandler(dispensingService)
	balanceHandler := handlers.NewBalanceHandler(balanceService)
	kaspiHandler := handlers.NewKaspiHandler(kaspiService)
	healthHandler := handlers.NewHealthHandler(healthService)

	g := s.Router.Group("/api/v1")
	handlers.RegisterDeviceRoutes(g, deviceHandler)
	handlers.RegisterDispensingRoutes(g, dispensingHandler)
	handlers.RegisterBalanceRoutes(g, balanceHandler)
	handlers.RegisterKaspiRoutes(g, kaspiHandler)
	handlers.RegisterHealthRoutes(g, healthHandler)

	var hostname string
	hostname, err = os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	err = prom.Create(hostname, config.Get().AppEnv, config.Get().PromNamespace)
	if err != nil {
		logger.Error("failed to create prometheus metrics", "error", err)
		return
	}

	go func() {
		prom.ListenAndServer(":9100", "/metrics")
	}()

	// Create new server
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Kill, os.Interrupt, syscall.SIGTERM)

	go func() {
		var err = s.ListenAndServe(config.Get().HttpListenAddr)
		if err != nil {
			logger.Error("error in running http-server", "error", err)
		}
	}()

	select {
	case <-c:
		s.Shutdown()
	}
}

func argContainsEnvPath() string {
	for _, v := range os.Args {
		if strings.Contains(v, "--env=") {
			s := strings.Split(v, "=")
			if _, err := os.Open(s[1]); err != nil {
				logger.Error("failed to open the passed env file, got error" + err.Error())
				return ""
			}
			return s[1]
		}
	}
	return ""
}
