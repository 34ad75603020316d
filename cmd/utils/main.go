package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/kiosk/cmd/utils/internal/commands"
	"github.com/joho/godotenv"
)

const (
	appName    = "kiosk-utils"
	appVersion = "0.1.0"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	_ = godotenv.Load()

	config, err := apt.LoadConfig("UTILS", os.Args[2:])
	if err != nil {
		log.Fatalf("Cannot load config: %v", err)
	}

	logLevel, _ := config.GetString("log.level")
	if logLevel == "" {
		logLevel = "info"
	}
	logger := apt.NewLogger(logLevel)

	ctx := context.Background()
	command := os.Args[1]

	switch command {
	case "start-session":
		session, err := commands.StartSession(ctx, config, logger)
		if err != nil {
			log.Fatalf("❌ Start session failed: %v", err)
		}
		logger.Info("✅ Session started", "session_id", session)

	case "reset-db":
		if err := commands.ResetDB(ctx, config, logger); err != nil {
			log.Fatalf("❌ Database reset failed: %v", err)
		}
		logger.Info("✅ Database reset completed successfully")

	case "version":
		fmt.Printf("%s version %s\n", appName, appVersion)

	case "help", "-h", "--help":
		printUsage()

	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf(`%s - Kiosk queue utility commands

Usage:
  %s <command> [options]

Commands:
  start-session  Start the session after the active one and make it active
  reset-db       Drop the queue database (USE WITH CAUTION)
  version        Print version information
  help           Show this help message

Environment Variables:
  UTILS_QUEUE_URL        Queue service URL (default: http://localhost:8080)
  UTILS_AUTH_JWT_SECRET  Secret shared with the queue service for staff tokens
  UTILS_MONGO_URL        MongoDB connection URL (default: mongodb://localhost:27017/?replicaSet=rs0)
  UTILS_MONGO_NAME       Queue database name (default: kiosk_queue)
  UTILS_LOG_LEVEL        Log level: debug, info, warn, error (default: info)

Examples:
  UTILS_AUTH_JWT_SECRET=secret %s start-session
  UTILS_MONGO_URL=mongodb://localhost:27017 %s reset-db

`, appName, appName, appName, appName)
}
