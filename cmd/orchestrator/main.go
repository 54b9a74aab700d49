package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"concierge/internal/app"
)

// Exit codes (spec.md §6): 0 clean shutdown, 2 configuration error, 3
// journal unwritable, 4 no connectors configured.
const (
	exitOK           = 0
	exitConfigError  = 2
	exitJournalError = 3
	exitNoConnectors = 4
)

func main() {
	a, err := app.New()
	if err != nil {
		log.Printf("failed to initialize: %v", err)
		os.Exit(exitCodeFor(err))
	}

	go func() {
		if err := a.Start(); err != nil {
			log.Printf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := a.Shutdown(ctx); err != nil {
		log.Printf("shutdown error: %v", err)
		os.Exit(exitConfigError)
	}

	log.Println("exited cleanly")
	os.Exit(exitOK)
}

func exitCodeFor(err error) int {
	switch {
	case errors.Is(err, app.ErrNoConnectors):
		return exitNoConnectors
	case errors.Is(err, app.ErrJournal):
		return exitJournalError
	case errors.Is(err, app.ErrConfig):
		return exitConfigError
	default:
		return exitConfigError
	}
}
