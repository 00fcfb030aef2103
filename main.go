package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"fieldops/inquiry/internal/api"
	"fieldops/inquiry/internal/api/middleware"
	"fieldops/inquiry/internal/cache"
	"fieldops/inquiry/internal/config"
	"fieldops/inquiry/internal/db"
	"fieldops/inquiry/internal/realtime"
	"fieldops/inquiry/internal/services"
	"fieldops/inquiry/internal/storage"
	"fieldops/inquiry/internal/store"
	"fieldops/inquiry/internal/tasks"
	"fieldops/inquiry/internal/utils"
)

var runMode = flag.String("m", "all", "Run mode: 'api', 'bg' (photo processing worker), 'all' (default)")

func main() {
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*runMode)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := utils.InitIDNode(cfg.NodeID); err != nil {
		log.Fatalf("Failed to initialize message ID node: %v", err)
	}

	// Initialize Database
	mongoClient, mongoDb, err := db.ConnectDB(cfg.MongoURI, cfg.MongoDbName)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer func() {
		if err := db.DisconnectDB(mongoClient); err != nil {
			log.Printf("Error disconnecting from MongoDB: %v", err)
		}
	}()

	ctxIdx, cancelIdx := context.WithTimeout(context.Background(), 30*time.Second)
	if err := db.EnsureIndexes(ctxIdx, mongoDb); err != nil {
		cancelIdx()
		log.Fatalf("Failed to ensure indexes: %v", err)
	}
	cancelIdx()

	// Initialize Cache (Redis)
	redisClient, err := cache.ConnectRedis(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer func() {
		if err := cache.DisconnectRedis(redisClient); err != nil {
			log.Printf("Error disconnecting from Redis: %v", err)
		}
	}()

	s3StorageService, err := storage.NewS3Storage(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize S3 storage: %v", err)
	}

	// Initialize Task Client
	taskClient := tasks.NewClient(redisClient)
	defer taskClient.Close()

	// WaitGroup for managing goroutines
	var wg sync.WaitGroup

	// Channel to signal shutdown from Service API
	shutdownChan := make(chan struct{}, 1)

	hub := realtime.NewHub(cfg.ChatSendBuffer)

	// Start Service API (always runs)
	serviceRouter := api.SetupServiceRouter(cfg, hub, shutdownChan)
	serviceSrv := &http.Server{
		Addr:    ":" + cfg.ServiceApiPort,
		Handler: serviceRouter,
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Printf("Service API listening on :%s", cfg.ServiceApiPort)
		if err := serviceSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Service API ListenAndServe error: %v", err)
		}
		log.Println("Service API server stopped.")
	}()

	// --- Mode-specific servers ---
	var mainApiSrv *http.Server
	var rateLimiter *middleware.RateLimiterMiddleware
	var employeeService services.IEmployeeService
	var photoTaskSrv *asynq.Server
	relayCtx, stopRelay := context.WithCancel(context.Background())
	defer stopRelay()

	log.Printf("Starting %s in '%s' mode...", cfg.AppName, cfg.RunMode)

	apiMode := func() {
		log.Println("Starting main API server...")
		stores := store.NewMongoStores(mongoDb)
		employeeService = services.NewEmployeeService(stores.Directory, cfg.EmployeeCacheTTL)
		inquiryService := services.NewInquiryService(stores.Inquiries, employeeService, s3StorageService)
		chatService := services.NewChatService(stores, employeeService, hub, cfg)

		relay := realtime.NewRedisRelay(redisClient)
		hub.SetRelay(relay)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := relay.Run(relayCtx, hub); err != nil {
				log.Printf("Chat relay stopped: %v", err)
			}
		}()

		var mainApiRouter http.Handler
		mainApiRouter, rateLimiter = api.SetupRouter(cfg, api.Dependencies{
			InquiryService: inquiryService,
			ChatService:    chatService,
			Storage:        s3StorageService,
			TaskClient:     taskClient,
			Hub:            hub,
		})
		mainApiSrv = &http.Server{
			Addr:    ":" + cfg.ApiPort,
			Handler: mainApiRouter,
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Printf("Main API listening on :%s", cfg.ApiPort)
			if err := mainApiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("Main API ListenAndServe error: %v", err)
			}
			log.Println("Main API server stopped.")
		}()
	}

	bgMode := func() {
		log.Println("Starting photo processing worker...")
		taskProcessor := tasks.NewTaskProcessor(cfg, s3StorageService)
		var mux *asynq.ServeMux
		photoTaskSrv, mux = tasks.SetupServer(redisClient, taskProcessor)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := photoTaskSrv.Run(mux); err != nil {
				log.Fatalf("Photo processing server error: %v", err)
			}
			log.Println("Photo processing server stopped.")
		}()
	}

	switch cfg.RunMode {
	case "api":
		apiMode()
	case "bg":
		bgMode()
	case "all":
		apiMode()
		bgMode()
	default:
		log.Fatalf("Invalid run mode specified in config: %s.", cfg.RunMode)
	}

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Printf("Received signal: %s. Shutting down gracefully...", sig)
	case <-shutdownChan:
		log.Println("Shutdown requested via Service API. Shutting down gracefully...")
	}

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()

	log.Println("Shutting down Service API server...")
	if err := serviceSrv.Shutdown(ctxShutdown); err != nil {
		log.Printf("Service API server shutdown error: %v", err)
	}

	if mainApiSrv != nil {
		log.Println("Shutting down Main API server...")
		// Hijacked websocket connections are not tracked by http.Server.
		hub.Shutdown()
		if err := mainApiSrv.Shutdown(ctxShutdown); err != nil {
			log.Printf("Main API server shutdown error: %v", err)
		}
		rateLimiter.Close()
		employeeService.Close()
	}
	stopRelay()

	if photoTaskSrv != nil {
		log.Println("Shutting down Photo Processing server...")
		photoTaskSrv.Shutdown()
	}

	log.Println("Waiting for servers to stop...")
	wg.Wait()

	log.Println("Server gracefully stopped")
}
