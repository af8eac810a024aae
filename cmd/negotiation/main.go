package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	commonlog "negotiation_server/server/common/log"
	"negotiation_server/server/negotiation/app"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		commonlog.Warnf("event=startup action=load_dotenv status=failed error=%v", err)
	}

	cfg := app.LoadConfig()
	commonlog.SetLevel(cfg.LogLevel)
	server, err := app.NewServer(cfg)
	if err != nil {
		commonlog.Errorf("event=startup action=init status=failed error=%v", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		commonlog.Infof("event=startup action=listen status=ok addr=:%s", cfg.Port)
		if err := server.HTTPServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			commonlog.Errorf("event=http_server action=serve status=failed error=%v", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		commonlog.Warnf("event=shutdown action=graceful status=failed error=%v", err)
	}
	commonlog.Infof("event=shutdown action=graceful status=ok")
}
