package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"

	"codegen/internal/config"
	"codegen/internal/core/job"
	"codegen/internal/core/mapper"
	"codegen/internal/core/pipeline"
	"codegen/internal/core/probe"
	"codegen/internal/core/requirement"
	"codegen/internal/core/sandbox"
	"codegen/internal/core/synth"
	"codegen/internal/logger"
	"codegen/internal/platform/eino"
	rds "codegen/internal/platform/redis"
	tasks "codegen/internal/platform/tasks"
	"codegen/internal/server"
	"codegen/internal/worker"
	"codegen/prompts"
)

func main() {
	cfg := config.Load()
	log.Printf("[codegen] starting at %s (env=%s)\n", cfg.HTTPAddr, cfg.AppEnv)

	logr := logger.New("main")

	// Redis client
	redisSvc, err := rds.New(rds.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		log.Fatal(err)
	}
	defer redisSvc.Close()

	// Asynq client and server
	taskClient := tasks.New(redisSvc)
	asynqServer := asynq.NewServer(redisSvc.AsynqRedisOpt(), asynq.Config{
		Concurrency: 10,
		Queues:      map[string]int{"codegen": 1},
	})

	// Eino (LLM) service initialized from environment variables
	einoSvc, err := eino.NewService(eino.Config{
		Provider:      cfg.LLMProvider,
		APIKey:        cfg.GeminiAPIKey,
		Model:         cfg.DefaultLLMModel,
		FallbackModel: cfg.FallbackLLMModel,
	})
	if err != nil {
		log.Fatalf("failed to initialize Eino service: %v", err)
	}
	systemPrompts := prompts.NewSystemPrompts()

	// Sandbox backend for generated-script execution
	var backend sandbox.Backend
	if cfg.SandboxBackend == "remote" {
		backend = sandbox.NewRemoteBackend(cfg.SandboxRemoteURL, cfg.SandboxSecret)
	} else {
		backend = sandbox.NewSubprocessBackend(cfg.NodeCommand, cfg.DataDir)
	}

	// Core services
	jobSvc := job.NewService(redisSvc)
	parserSvc := requirement.NewService(einoSvc, systemPrompts)
	synthSvc := synth.NewService(einoSvc, systemPrompts)
	probeSvc := probe.New(cfg.Tunables.ProbeTimeoutMs, cfg.Tunables.SettleDelayMs, cfg.Tunables.ResponseBodyCap)
	mapperSvc := mapper.New(cfg.Tunables.SamplePageLimit)
	pipelineSvc := pipeline.NewService(cfg, jobSvc, taskClient, parserSvc, probeSvc, mapperSvc, synthSvc, backend)

	// Worker mux
	mux := worker.NewMux()
	mux.HandleFunc(tasks.TaskTypeCodegen, pipelineSvc.HandleCodegenTask)

	// Start worker
	_, workerCancel := context.WithCancel(context.Background())
	go func() {
		if err := asynqServer.Start(mux.Mux()); err != nil {
			log.Printf("[worker] stopped: %v\n", err)
		}
	}()

	// HTTP server
	app := fiber.New(fiber.Config{
		AppName: "Codegen Pipeline",
		JSONEncoder: func(v interface{}) ([]byte, error) {
			var buf bytes.Buffer
			encoder := json.NewEncoder(&buf)
			encoder.SetEscapeHTML(false)
			if err := encoder.Encode(v); err != nil {
				return nil, err
			}
			return buf.Bytes(), nil
		},
	})
	// Serve saved artifacts from DATA_DIR under /files
	app.Static("/files", cfg.DataDir)

	deps := server.Dependencies{
		Pipeline: pipelineSvc,
		Job:      jobSvc,
		Redis:    redisSvc,
	}
	healthHandler := server.RegisterRoutes(app, deps)

	// Mark application as ready after all services are initialized
	go func() {
		time.Sleep(5 * time.Second)
		healthHandler.SetReady()
	}()

	// Graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-shutdown
		logr.LogInfo("Shutting down...")
		workerCancel()
		asynqServer.Shutdown()
		_ = app.ShutdownWithTimeout(5 * time.Second)
	}()

	if err := app.Listen(cfg.HTTPAddr); err != nil {
		log.Fatalf("server listen: %v", err)
	}
}
