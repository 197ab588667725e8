package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	utils "dataferry/internal"
	"dataferry/internal/api"
)

func main() {
	app := &cli.App{
		Name:  "dataferry",
		Usage: "Resumable, verified, parallel uploads to S3-compatible storage",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "env",
				Usage:   "Environment from the upload config to use",
				EnvVars: []string{"ENVIRONMENT"},
			},
			&cli.StringFlag{
				Name:    "config",
				Usage:   "Path to the upload config file",
				EnvVars: []string{"UPLOAD_CONFIG_PATH"},
			},
		},
		Commands: []*cli.Command{uploadCmd, serveCmd, resumeCmd},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "🚨 %v\n", err)
		os.Exit(1)
	}
}

var serveCmd = &cli.Command{
	Name:  "serve",
	Usage: "Accept batches over HTTP",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "port", Usage: "Listen port (defaults to PORT)"},
		&cli.IntFlag{Name: "workers", Usage: "Concurrent workers per batch"},
	},
	Action: func(c *cli.Context) error {
		rt, err := setup(c)
		if err != nil {
			return err
		}
		defer rt.close()

		ctx, stop := utils.ShutdownContext(c.Context)
		defer stop()

		coord, err := rt.coordinator(ctx, c.Int("workers"))
		if err != nil {
			return err
		}
		batches := api.NewBatchAPI(ctx, coord, rt.log)

		port := rt.cfg.Port
		if c.String("port") != "" {
			port = c.String("port")
		}
		server := &http.Server{
			Addr:         fmt.Sprintf(":%s", port),
			Handler:      api.NewRouter(batches, rt.cfg.APIKey),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		}

		serverErr := make(chan error, 1)
		go func() {
			rt.log.Infof("Starting server on port %s 🚀", port)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErr <- err
			}
		}()

		select {
		case err := <-serverErr:
			return fmt.Errorf("server failed to start: %w", err)
		case <-ctx.Done():
		}

		rt.log.Info("Shutting down server... 🛑")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}

		// Running batches saw the cancellation; wait for in-flight parts to land.
		batches.Wait()
		rt.log.Info("Server exited")
		return nil
	},
}
