package main

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/thin-edge/tedge-core/pkg/api/middleware"
	"github.com/thin-edge/tedge-core/pkg/logger"
	"github.com/thin-edge/tedge-core/pkg/mqttbridge"
)

// namedActor adapts a bare Run(ctx) error function into a runtime.Actor, for
// components (the flow engine) whose own Run loop already matches the actor
// contract.
type namedActor struct {
	name string
	run  func(ctx context.Context) error
}

func (a namedActor) Name() string                 { return a.name }
func (a namedActor) Run(ctx context.Context) error { return a.run(ctx) }

// bridgeActor runs the local<->cloud MQTT bridge (spec §4.3) as a
// runtime.Actor: Connect starts both sides' reconnect loops in background
// goroutines already, so Run just waits for shutdown and then disconnects.
type bridgeActor struct {
	bridge *mqttbridge.Bridge
}

func (a *bridgeActor) Name() string { return "mqtt-bridge" }

func (a *bridgeActor) Run(ctx context.Context) error {
	if err := a.bridge.Connect(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	a.bridge.Disconnect(250)
	return ctx.Err()
}

// httpActor runs a http.Handler behind a net.Listener as a runtime.Actor
// (spec §6's file-transfer endpoint, served over plain HTTP per the
// original's localhost-only deployment model).
type httpActor struct {
	name    string
	addr    string
	handler http.Handler
}

func (a *httpActor) Name() string { return a.name }

func (a *httpActor) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.addr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: middleware.RequestIDMiddleware()(a.handler)}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.L().ErrorContext(ctx, "file transfer server shutdown error", "error", err)
		}
		return ctx.Err()
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
