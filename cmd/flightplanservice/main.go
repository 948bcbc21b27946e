package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/tiiuae/flightplanservice/internal/api"
	"github.com/tiiuae/flightplanservice/internal/bridge"
	"github.com/tiiuae/flightplanservice/internal/config"
	"github.com/tiiuae/flightplanservice/internal/flightplans"
	"github.com/tiiuae/flightplanservice/internal/statusfeed"
	"github.com/tiiuae/flightplanservice/internal/store"
	"github.com/tiiuae/flightplanservice/internal/types"
)

const serviceName = "flightplanservice"

func main() {
	cfg, err := config.Parse(os.Args)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// attach sigint & sigterm listeners
	terminationSignals := make(chan os.Signal, 1)
	signal.Notify(terminationSignals, syscall.SIGINT, syscall.SIGTERM)

	// quitFunc will be called when process is terminated
	ctx, quitFunc := context.WithCancel(context.Background())

	// wait group will make sure all goroutines have time to clean up
	var wg sync.WaitGroup

	repo, err := openStore(cfg.StorePath)
	if err != nil {
		log.Fatalf("Could not open store: %v", err)
	}

	transport, err := bridge.NewMQTTTransport(bridge.MQTTConfig{
		Broker:         cfg.Broker.Address,
		ClientID:       cfg.Broker.ClientID,
		Username:       cfg.Broker.Username,
		PrivateKeyPath: cfg.Broker.PrivateKey,
		Algorithm:      cfg.Broker.Algorithm,
		Audience:       cfg.Broker.Audience,
		ConnectTimeout: cfg.Broker.ConnectTimeout,
	})
	if err != nil {
		log.Fatalf("Could not create MQTT client: %v", err)
	}

	brokerBridge := bridge.New(ctx, transport, bridge.Config{
		Topics:         bridge.DefaultTopics(cfg.Broker.AppName, cfg.Broker.AutopilotName),
		ConfirmTimeout: cfg.Broker.ConfirmTimeout,
		Name:           serviceName,
	})
	service := flightplans.New(repo, brokerBridge, serviceName)
	hub := statusfeed.New(types.BridgeState{State: bridge.Disconnected.String()})

	bus := types.NewMessageBus(make(chan types.Message, 100), types.NewLogger(types.MessageBridgeState), hub)
	go bus.Run(ctx, &wg)

	post := func(msg types.Message) { bus.Post(ctx, msg) }
	brokerBridge.SetPost(post)
	service.SetPost(post)

	server := &http.Server{
		Addr:    cfg.HTTPAddress,
		Handler: api.New(service, hub),
	}
	go func() {
		log.Printf("Listening on %s", cfg.HTTPAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("HTTP server failed: %v", err)
			select {
			case terminationSignals <- syscall.SIGTERM:
			default:
			}
		}
	}()

	// wait for termination and close quit to signal all
	<-terminationSignals
	log.Printf("Shutting down..")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown: %v", err)
	}
	cancel()

	if err := brokerBridge.Disconnect(); err != nil {
		log.Printf("Broker disconnect: %v", err)
	}

	// cancel the main context
	quitFunc()

	// wait until goroutines have done their cleanup
	log.Printf("Waiting for routines to finish...")
	wg.Wait()
	log.Printf("Signing off - BYE")
}

func openStore(path string) (store.Repository, error) {
	if path == "" {
		log.Printf("No store path given, flight plans are kept in memory only")
		return store.NewMemory(), nil
	}
	return store.Open(path)
}
