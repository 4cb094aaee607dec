package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"calcjob/internal/gateway/app"
	"calcjob/internal/tools/demo"
)

func main() {
	tools, err := demo.NewRegistry()
	if err != nil {
		log.Fatalf("Failed to register tools: %v", err)
	}
	a, err := app.NewGateway(os.Args[1:], tools)
	if err != nil {
		log.Fatalf("Failed to initialize app: %v", err)
	}

	go func() {
		if err := a.Start(); err != nil {
			a.Logger().Error("server error", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	a.Logger().Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := a.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	a.Logger().Info("server exiting")
}
