package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/unclebandit/supportmail-backend/internal/app"
	"github.com/unclebandit/supportmail-backend/internal/config"
	"github.com/unclebandit/supportmail-backend/internal/db"
	"github.com/unclebandit/supportmail-backend/internal/logger"
	"github.com/unclebandit/supportmail-backend/internal/metrics"
	"github.com/unclebandit/supportmail-backend/internal/queue"
	"github.com/unclebandit/supportmail-backend/internal/service"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️ No .env file found, relying on OS environment variables")
	}

	cliApp := &cli.App{
		Name:  "supportmail-worker",
		Usage: "deliver confirmed campaigns",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "concurrency",
				Aliases: []string{"c"},
				Usage:   "parallel sends, overrides SEND_CONCURRENCY",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "consume",
				Usage:  "process campaign_prepare, campaign_sends and analytics_export jobs from RabbitMQ",
				Action: consume,
			},
			{
				Name:   "drain",
				Usage:  "send every delivery record still queued, then exit",
				Action: drain,
			},
		},
	}

	if err := cliApp.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// open loads config and connects to postgres. --concurrency wins over env.
func open(c *cli.Context) (*config.Config, *logrus.Logger, *sqlx.DB, error) {
	cfg := config.Get()
	if n := c.Int("concurrency"); n > 0 {
		cfg.SendConcurrency = n
	}
	lg := logger.New(cfg)

	conn, err := db.Connect(cfg.DSN())
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, lg, conn, nil
}

func consume(c *cli.Context) error {
	cfg, lg, conn, err := open(c)
	if err != nil {
		return err
	}
	defer conn.Close()
	metrics.Init()

	q, err := queue.DialAMQP(cfg.AMQPURL, cfg.SendConcurrency, logger.Named(lg, "amqp"))
	if err != nil {
		return err
	}
	defer q.Close()

	a := app.New(cfg, lg, conn, q)
	defer a.Templates.Stop()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := service.StartSubscribers(ctx, q, a.Tracker, a.Analytics, lg); err != nil {
		return err
	}
	lg.Info("👷 Worker running, waiting for messages...")
	<-ctx.Done()
	return nil
}

func drain(c *cli.Context) error {
	cfg, lg, conn, err := open(c)
	if err != nil {
		return err
	}
	defer conn.Close()

	a := app.New(cfg, lg, conn, nil)
	defer a.Templates.Stop()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := a.Tracker.Drain(ctx)
	if err != nil {
		return err
	}
	lg.Infof("✅ drained: %d sent, %d failed, %d errors", res.Sent, res.Failed, res.Errors)
	return nil
}
