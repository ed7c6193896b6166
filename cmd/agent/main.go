package main

import (
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ecotrend/dispensing-gateway/internal/agent"
	"github.com/ecotrend/dispensing-gateway/internal/config"
	"github.com/ecotrend/dispensing-gateway/internal/repository"
	"github.com/ecotrend/dispensing-gateway/internal/services"
	"github.com/ecotrend/dispensing-gateway/internal/telemetry"
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

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Kill, os.Interrupt, syscall.SIGTERM)

	deviceRepo := repository.NewDeviceRepository(db)
	chemicalRepo := repository.NewChemicalRepository(db)
	flowRepo := repository.NewFlowStateRepository(db)
	transactionRepo := repository.NewTransactionRepository(db)
	dispensingRepo := repository.NewDispensingRepository(db)

	dispensingService := services.NewDispensingService(deviceRepo, chemicalRepo, flowRepo, transactionRepo, dispensingRepo)
	bridge := telemetry.NewBridge(redisAdap)

	// Initialize idempotency service
	idempotencyConfig := agent.DefaultIdempotencyConfig()
	idempotencyService := agent.NewIdempotencyService(redisAdap, idempotencyConfig)

	service, err := agent.NewAgentService(redisAdap)
	if err != nil {
		logger.Error("failed to create the agent", "error", err)
		return
	}
	service.RegisterProcessor(agent.NewPourProcessor(dispensingService, bridge, idempotencyService))

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
		prom.ListenAndServer(":9101", "/metrics")
	}()

	go func() {
		err := service.Start()
		if err != nil {
			logger.Error("failed to start agent", "error", err)
		}
	}()

	select {
	case <-c:
		service.Stop()
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
