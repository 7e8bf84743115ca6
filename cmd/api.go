package cmd

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/trafficai/internal/api"
	"github.com/trafficai/internal/audiences"
	"github.com/trafficai/internal/config"
	"github.com/trafficai/internal/database"
	"github.com/trafficai/internal/jobqueue"
	"github.com/trafficai/internal/logging"
	"github.com/trafficai/internal/realtime"
)

// APICommand returns the CLI command for starting the API server
func APICommand() *cli.Command {
	return &cli.Command{
		Name:  "api",
		Usage: "Start the Traffic AI API server",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port for the API server (overrides config)",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level (trace, debug, info, warn, error)",
				Value: "info",
			},
			&cli.BoolFlag{
				Name:  "pretty",
				Usage: "Human-readable console logging",
			},
			&cli.BoolFlag{
				Name:  "no-jobs",
				Usage: "Run without the background job queue",
			},
		},
		Action: runAPI,
	}
}

func runAPI(c *cli.Context) error {
	logging.Setup(c.String("log-level"), c.Bool("pretty"))
	logger := logging.Component("server")

	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if port := c.Int("port"); port > 0 {
		cfg.Server.Port = port
	}

	db, err := database.NewDB(cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	hub := realtime.NewHub()

	var jobQueue *jobqueue.JobQueue
	if !c.Bool("no-jobs") {
		audiencesClient := audiences.NewClient(cfg.Audiences.BaseURL, cfg.Audiences.APIKey, logging.Component("jobqueue"))
		jobQueue, err = jobqueue.NewJobQueue(cfg.Database.URL, audiencesClient, audiences.NewContactsRepo(db), hub)
		if err != nil {
			return fmt.Errorf("failed to create job queue: %w", err)
		}

		ctx := context.Background()
		if err := jobQueue.Start(ctx); err != nil {
			return fmt.Errorf("failed to start job queue: %w", err)
		}
		defer jobQueue.Stop(ctx)

		logger.Info().Msg("Background job queue started")
	}

	server := api.NewServer(cfg, db, hub, jobQueue, logger)
	return server.Start()
}
