package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/xiaoyuanzhu-com/gueridon/api"
	"github.com/xiaoyuanzhu-com/gueridon/config"
	"github.com/xiaoyuanzhu-com/gueridon/log"
	"github.com/xiaoyuanzhu-com/gueridon/server"
)

func main() {
	cfg := config.Get()

	srv, err := server.New()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize server")
	}

	// Routes are registered here to keep the api -> server import direction
	api.SetupRoutes(srv.Router(), api.NewHandlers(srv))

	go func() {
		printNetworkAddresses(cfg.Port)
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			// Covers port-in-use and any other fatal startup failure
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Graceful shutdown. The signal name feeds the next run's restart
	// classification.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	signame := "SIGTERM"
	if sig == syscall.SIGINT {
		signame = "SIGINT"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx, signame); err != nil {
		log.Error().Err(err).Msg("shutdown error")
		os.Exit(1)
	}
	log.Info().Msg("bridge stopped")
}

func printNetworkAddresses(port int) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok {
				if ip4 := ipnet.IP.To4(); ip4 != nil {
					log.Info().Str("url", fmt.Sprintf("http://%s:%d", ip4.String(), port)).Msg("network")
				}
			}
		}
	}
}
