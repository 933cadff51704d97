package main

import (
	"context"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"chat-sync/internal/bus"
	"chat-sync/internal/config"
	"chat-sync/internal/db"
	"chat-sync/internal/engine"
	"chat-sync/internal/handlers"
	"chat-sync/internal/middleware"
	"chat-sync/internal/observability"
	"chat-sync/internal/repositories"
	"chat-sync/internal/telemetry"
	"chat-sync/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx := context.Background()
	shutdownTracing, err := telemetry.Setup(ctx, "chat-sync", cfg.Environment, cfg.OTLPEndpoint)
	if err != nil {
		log.Fatalf("failed to set up tracing: %v", err)
	}
	defer shutdownTracing(ctx)

	database, err := db.Connect(cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}

	var eventBus bus.Bus
	if cfg.AMQPURL == "" {
		log.Printf("amqp disabled, using in-memory bus")
		eventBus = bus.NewMemory()
	} else {
		amqpBus, err := bus.NewAMQP(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			log.Fatalf("failed to connect to rabbitmq: %v", err)
		}
		defer amqpBus.Close()
		eventBus = amqpBus
	}

	conversationRepo := repositories.NewEventingConversationRepo(repositories.NewConversationRepo(database), eventBus)
	messageRepo := repositories.NewEventingMessageRepo(repositories.NewMessageRepo(database), eventBus)

	eng := engine.New(conversationRepo, messageRepo, eventBus)

	chatHandler := handlers.NewChatHandler(conversationRepo, messageRepo, eng)
	feedHandler := ws.NewFeedHandler(eng)

	router := gin.Default()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("chat-sync"))
	router.Use(observability.HTTPMetricsMiddleware())

	identity := middleware.Identity()

	router.GET("/conversations", identity, chatHandler.ListConversations)
	router.POST("/conversations/:conversation_id/messages", identity, chatHandler.PostMessage)

	router.GET("/ws/conversations", identity, feedHandler.HandleConversationList)
	router.GET("/ws/conversations/:conversation_id", identity, feedHandler.HandleConversation)

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
