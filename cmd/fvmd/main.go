// Command fvmd runs a freshness value manager as a participant or time
// server over UDP.
//
// Usage:
//
//	fvmd -settings /etc/fvmd/fvmd.ini
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-i2p/logger"
	fvm "github.com/go-sok/go-fvm"
)

func main() {
	path := flag.String("settings", "fvmd.ini", "path to the daemon settings file")
	flag.Parse()

	if err := run(*path); err != nil {
		fvm.Error("fvmd: %v", err)
		os.Exit(1)
	}
}

func run(path string) error {
	s, err := loadSettings(path)
	if err != nil {
		return err
	}
	fvm.LogInit(s.logLevel)

	keys, err := fvm.LoadKeyStore(s.keysPath)
	if err != nil {
		return err
	}

	udp, err := fvm.NewUDPTransport(s.listen)
	if err != nil {
		return err
	}
	defer udp.Close()

	tracer := fvm.NewSignalTracer(udp)
	if s.trace {
		tracer.Enable()
	}

	metrics := fvm.NewInMemoryMetrics()
	engine, err := fvm.NewEngine(fvm.Options{
		Role:      s.role,
		Config:    fvm.FileConfigProvider{Path: s.configPath},
		Crypto:    fvm.NewCsmAccessor(keys),
		Transport: tracer,
		Timings:   s.timings,
		Metrics:   metrics,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Keys may be provisioned after the daemon starts; reload the key file
	// before every attempt.
	err = fvm.RetryWithBackoff(ctx, s.initRetries, s.initBackoff, func() error {
		if fresh, err := fvm.LoadKeyStore(s.keysPath); err == nil {
			keys.Replace(fresh)
		}
		return engine.Init()
	})
	if err != nil {
		return err
	}
	defer engine.Deinit()

	fvm.Info("fvmd started as %s on %s", s.role, udp.LocalAddr())

	var srv *http.Server
	if s.diagnosticsListen != "" {
		gin.SetMode(gin.ReleaseMode)
		srv = &http.Server{
			Addr:              s.diagnosticsListen,
			Handler:           newRouter(engine, metrics, tracer),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				fvm.Error("diagnostics server: %v", err)
			}
		}()
		fvm.Info("Diagnostics served on %s", s.diagnosticsListen)
	}

	err = engine.Run(ctx)

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}

	count, last, lo, hi := metrics.Jitter()
	logger.GetGoI2PLogger().WithFields(logger.Fields{
		"valid":          engine.IsFreshnessValueValid(),
		"jitter_samples": count,
		"jitter_last_ms": last,
		"jitter_min_ms":  lo,
		"jitter_max_ms":  hi,
		"udp_breaker":    string(udp.Breaker().State()),
	}).Info("fvmd stopping")

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
