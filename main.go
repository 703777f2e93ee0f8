package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"kirimin/server/internal/chat"
	"kirimin/server/internal/config"
	"kirimin/server/internal/friends"
	"kirimin/server/internal/handlers"
	"kirimin/server/internal/logger"
	"kirimin/server/internal/routes"
	"kirimin/server/internal/stories"
	"kirimin/server/internal/store"
	"kirimin/server/internal/store/pebbledoc"
	"kirimin/server/internal/store/pgdoc"
	"kirimin/server/internal/websocket"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	cfgPath := os.Getenv("KIRIMIN_CONFIG")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger.Init(cfg.LogLevel)
	defer logger.Sync()

	st, err := openStore(cfg.Store)
	if err != nil {
		logger.Log.Fatal("store_open_failed", zap.Error(err))
	}
	defer st.Close()

	chatSvc := chat.NewService(st, cfg.Chat.DefaultTheme, cfg.Chat.DefaultEmoji)
	friendsSvc := friends.NewService(st)
	storiesSvc := stories.NewService(st, time.Duration(cfg.Stories.WindowHours)*time.Hour)
	storiesSvc.GalleryWindow = time.Duration(cfg.Stories.GalleryWindowHours) * time.Hour

	hub := websocket.NewHub(st, storiesSvc, cfg.Chat.BlockedDomains, cfg.Chat.TypingDebounce)
	go hub.Run()

	h := handlers.New(st, chatSvc, friendsSvc, storiesSvc, hub)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		AppName: "Kirimin API v1.0",
	})

	// Middleware
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.AllowOrigins,
		AllowCredentials: true,
	}))

	// Setup routes
	routes.SetupRoutes(app, h)

	logger.Log.Info("server_starting", zap.String("addr", cfg.Server.Addr), zap.String("store", cfg.Store.Driver))
	if err := app.Listen(cfg.Server.Addr); err != nil {
		logger.Log.Fatal("server_failed", zap.Error(err))
	}
}

func openStore(cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case "postgres":
		return pgdoc.Open(context.Background(), cfg.DSN)
	default:
		return pebbledoc.Open(cfg.Path)
	}
}
