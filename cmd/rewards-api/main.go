// Command rewards-api serves the position evolution and earnings API.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/R3E-Network/rewards_layer/internal/app/runtime"
)

func main() {
	application, err := runtime.NewApplication()
	if err != nil {
		log.Fatalf("failed to start rewards-api: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := application.Run(ctx)
	if runErr != nil {
		log.Printf("server error: %v", runErr)
	}

	log.Println("shutting down...")
	if err := application.Shutdown(context.Background()); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	if runErr != nil {
		os.Exit(1)
	}
}
