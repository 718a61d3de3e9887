package main

import (
	"context"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"canopy/backend/internal/auth"
	"canopy/backend/internal/database"
	"canopy/backend/internal/handlers"
	"canopy/backend/internal/logger"
	"canopy/backend/internal/middleware"
	"canopy/backend/internal/realtime"
	"canopy/backend/internal/realtime/bus"
	"canopy/backend/internal/services"
	"canopy/backend/internal/store"
)

func main() {
	_ = godotenv.Load()

	log, err := logger.New(os.Getenv("MODE"))
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	// Initialize Database
	database.ConnectDB(log)

	// Initialize attachment storage
	if err := services.InitStorage(log); err != nil {
		log.Fatal("failed to initialize attachment storage", "error", err)
	}

	st := store.New(database.DB(), log)

	// Broadcast backbone: Redis when configured, in-process otherwise.
	var roomBus bus.Bus
	if os.Getenv("REDIS_ADDR") != "" {
		roomBus, err = bus.NewRedisBus(log)
		if err != nil {
			log.Fatal("failed to connect room bus to redis", "error", err)
		}
	} else {
		roomBus = bus.NewLocalBus()
	}
	defer roomBus.Close()

	hub := realtime.NewHub(st, roomBus, log)
	if err := hub.Start(context.Background()); err != nil {
		log.Fatal("failed to start room hub", "error", err)
	}

	handlers.Init(st, hub, log)

	// Initialize Gin Router
	router := gin.Default()
	router.GET("/health", handlers.HealthCheck)

	api := router.Group("/api/v1")
	{
		api.POST("/auth/register", auth.RegisterHandler)
		api.POST("/auth/login", auth.LoginHandler)

		protected := api.Group("/").Use(middleware.AuthMiddleware())
		{
			// DOCUMENT ROUTES
			protected.POST("/documents", handlers.CreateNode)
			protected.GET("/documents", handlers.ListNodes)
			protected.GET("/documents/:id", handlers.GetNode)
			protected.PATCH("/documents/:id", handlers.UpdateNode)
			protected.DELETE("/documents/:id", handlers.DeleteNode)

			// MOVE / REORDER
			protected.POST("/documents/:id/move", handlers.MoveNode)
			protected.POST("/documents/reorder", handlers.ReorderNodes)

			// SHARING
			protected.POST("/documents/:id/share", handlers.ShareNode)
			protected.DELETE("/documents/:id/share/:userId", handlers.UnshareNode)

			// SEARCH
			protected.GET("/search", handlers.SearchNodes)

			// REALTIME CHANNEL
			protected.GET("/ws", realtime.ServeWS(hub))
		}
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	log.Info("server starting", "port", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatal("failed to run server", "error", err)
	}
}
