package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"

	"github.com/pterm/pterm"
	"github.com/redis/go-redis/v9"

	"github.com/MHolmes91/trivir/bus"
	"github.com/MHolmes91/trivir/relay"
)

func main() {
	listen := flag.String("listen", ":9735", "address to serve websocket clients on")
	flag.Parse()

	handler := pterm.NewSlogHandler(&pterm.DefaultLogger)
	logger := slog.New(handler)

	// With REDIS_ADDR set, multiple relay instances pointed at the same
	// Redis behave as one logical bus. Without it this relay is standalone.
	var backend bus.MessageBus
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		client := redis.NewClient(&redis.Options{Addr: addr})
		ctx := context.Background()
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Error("could not reach the redis backend", "addr", addr, "err", err)
			os.Exit(1)
		}
		rb := bus.NewRedisBus(ctx, client)
		defer rb.Close()
		backend = rb
		logger.Info("using redis backend", "addr", addr)
	}

	srv := relay.New(backend, logger)
	logger.Info("relay listening", "addr", *listen)
	if err := http.ListenAndServe(*listen, srv.Handler()); err != nil {
		logger.Error("relay stopped", "err", err)
		os.Exit(1)
	}
}
