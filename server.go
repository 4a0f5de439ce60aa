package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"messenger/api/handlers"
	"messenger/api/middleware"
	"messenger/api/routes"
	"messenger/config"
	"messenger/db"
	"messenger/services"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
)

const serviceName = "messenger"

func main() {
	var configPath, envFile string
	pflag.StringVarP(&configPath, "config", "c", "config.yaml", "Path to the configuration file")
	pflag.StringVar(&envFile, "env-file", ".env", "Optional .env file with overrides")
	pflag.Parse()

	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("WARN: failed to load %s: %v", envFile, err)
	}

	err := config.LoadConfig(configPath)
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}
	conf := config.AppConfig
	log.Printf("Starting server, db driver %s", conf.Databases.Driver)

	if err = db.ConnectDB(); err != nil {
		panic("Failed to connect to the database: " + err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// instanceID - имя инстанса в счетчике присутствия и в очереди RabbitMQ
	instanceID := uuid.NewString()
	presenceTTL := time.Duration(conf.Redis.PresenceTTL) * time.Second
	if presenceTTL <= 0 {
		presenceTTL = 30 * time.Second
	}

	var counter services.SessionCounter
	if conf.Redis.Enabled {
		if err := services.InitRedis(); err != nil {
			log.Printf("WARN: Redis unavailable, presence is tracked per instance: %v", err)
		} else {
			redisCounter := services.NewRedisSessionCounter(services.RedisClient, instanceID, presenceTTL)
			counter = redisCounter
			defer services.CloseRedis()
			defer func() {
				if err := redisCounter.Release(context.Background()); err != nil {
					log.Printf("WARN: failed to release presence instance: %v", err)
				}
			}()
		}
	}

	var bus services.Broadcaster
	if conf.RabbitMQ.Enabled {
		rabbit, err := services.InitRabbitMQ(conf.RabbitMQ.URL, conf.RabbitMQ.Exchange, instanceID)
		if err != nil {
			log.Printf("WARN: RabbitMQ unavailable, events are delivered locally: %v", err)
		} else if err := rabbit.StartConsumer(ctx, services.GlobalSessionRegistry); err != nil {
			log.Printf("WARN: RabbitMQ consumer failed, events are delivered locally: %v", err)
			_ = rabbit.Close()
		} else {
			bus = rabbit
			defer rabbit.Close()
		}
	}

	// воркеры живут дольше ctx: события об уходе пользователей при остановке должны уйти
	workersCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	notifier := services.NewNotifier(services.GlobalSessionRegistry, bus,
		conf.Messaging.NotifyQueueSize, conf.Messaging.NotifyWorkers)
	notifier.StartWorkers(workersCtx)
	presence := services.NewPresenceService(services.GlobalSessionRegistry, counter, notifier)
	handlers.Init(notifier, presence)
	go presence.RunHeartbeat(ctx, presenceTTL/3)

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(middleware.PrometheusMiddleware(serviceName))

	corsConfig := cors.DefaultConfig()
	if len(conf.Backend.CorsOrigins) > 0 {
		corsConfig.AllowOrigins = conf.Backend.CorsOrigins
		corsConfig.AllowCredentials = true
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization"}
	router.Use(cors.New(corsConfig))

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	routes.PublicApi(router, middleware.AuthMiddleware(handlers.Users(), conf.Backend.AllowTestAuth))

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", conf.Backend.Host, conf.Backend.Port),
		Handler: router,
	}
	go func() {
		log.Printf("Listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	// http.Server.Shutdown не ждет hijacked websocket-соединений
	if err := handlers.CloseSessions(shutdownCtx); err != nil {
		log.Printf("ERROR: closing websocket sessions: %v", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("ERROR: server shutdown: %v", err)
	}
}
