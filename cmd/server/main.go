package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/sundayezeilo/linkshare/internal/app"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize application
	application, err := app.New(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := application.Shutdown(); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}()

	// Start server (blocks until shutdown)
	return application.Start(ctx)
}
