package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/cwbudde/copy-envelope/audiofile"
	"github.com/cwbudde/copy-envelope/internal/cliutil"
	"github.com/cwbudde/copy-envelope/pipeline"
	"github.com/cwbudde/copy-envelope/server"
)

type CLI struct {
	Addr         string        `default:":8080" env:"COPYENV_ADDR" help:"Listen address"`
	Data         string        `default:"./data" type:"path" env:"COPYENV_DATA" help:"Directory for the job database"`
	Jobs         int           `default:"2" env:"COPYENV_JOBS" help:"Jobs run at the same time"`
	Queue        int           `default:"64" env:"COPYENV_QUEUE" help:"Jobs waiting to run"`
	Workers      string        `default:"auto" env:"COPYENV_WORKERS" help:"Parallel mold loaders per job: integer >= 1 or auto"`
	BitDepth     int           `default:"16" enum:"16,24" env:"COPYENV_BIT_DEPTH" help:"Output bit depth (16 or 24)"`
	ReadTimeout  time.Duration `default:"30s" env:"COPYENV_READ_TIMEOUT" help:"HTTP read timeout"`
	WriteTimeout time.Duration `default:"30s" env:"COPYENV_WRITE_TIMEOUT" help:"HTTP write timeout"`
	Verbose      bool          `short:"v" env:"COPYENV_VERBOSE" help:"Debug logging"`
	LogFormat    string        `default:"text" enum:"text,json" env:"COPYENV_LOG_FORMAT" help:"Log format: text or json"`
}

func main() {
	if err := cliutil.LoadDotEnv(); err != nil {
		cliutil.PrintError(err.Error())
		os.Exit(1)
	}
	cli := &CLI{}
	kctx := kong.Parse(cli,
		kong.Name("copyenv-server"),
		kong.Description("HTTP job service for envelope transfers"),
		kong.UsageOnError(),
	)

	log, err := cliutil.NewLogger(os.Stderr, cli.Verbose, cli.LogFormat)
	if err != nil {
		kctx.Fatalf("%v", err)
	}
	workers, err := cliutil.ParseWorkers(cli.Workers)
	if err != nil {
		kctx.Fatalf("invalid --workers: %v", err)
	}

	store, err := server.OpenStore(cli.Data)
	if err != nil {
		log.Fatalf("Failed to open job store: %v", err)
	}
	defer store.Close()

	runner := pipeline.NewRunner(log)
	runner.Workers = workers
	runner.WriteOptions = audiofile.WriteOptions{BitDepth: cli.BitDepth}

	srv := server.New(store, runner, log, server.Options{Workers: cli.Jobs, QueueSize: cli.Queue})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := srv.Start(ctx); err != nil {
		log.Fatalf("Failed to start workers: %v", err)
	}

	httpSrv := &http.Server{
		Addr:         cli.Addr,
		Handler:      srv.Handler(),
		ReadTimeout:  cli.ReadTimeout,
		WriteTimeout: cli.WriteTimeout,
	}
	go func() {
		log.WithField("addr", cli.Addr).Info("server starting")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("forced shutdown")
	}
	cancel()
	srv.Wait()
	log.Info("server exited")
}
