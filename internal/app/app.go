// Package app wires repositories, services and transports from config.
package app

import (
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/unclebandit/supportmail-backend/internal/config"
	"github.com/unclebandit/supportmail-backend/internal/directory"
	"github.com/unclebandit/supportmail-backend/internal/logger"
	"github.com/unclebandit/supportmail-backend/internal/mailer"
	"github.com/unclebandit/supportmail-backend/internal/queue"
	"github.com/unclebandit/supportmail-backend/internal/repository"
	"github.com/unclebandit/supportmail-backend/internal/service"
)

type App struct {
	Users       *repository.UserRepository
	Campaigns   *service.CampaignService
	Tracker     *service.DeliveryTracker
	Unsubscribe *service.UnsubscribeService
	Analytics   *service.AnalyticsService
	Templates   *service.TemplateService
}

func NewTransport(cfg *config.Config, log *logrus.Logger) mailer.Transport {
	if cfg.MailTransport == "smtp" {
		return mailer.NewSMTPTransport(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword)
	}
	log.Warn("⚠️ MAIL_TRANSPORT is not smtp, messages will only be logged")
	return &mailer.LogTransport{Log: logger.Named(log, "mailer")}
}

// New builds every service on top of db. q may be nil, in which case
// confirmed campaigns wait for a drain.
func New(cfg *config.Config, log *logrus.Logger, db *sqlx.DB, q queue.Queue) *App {
	users := &repository.UserRepository{DB: db}
	campaigns := &repository.CampaignRepository{DB: db}
	deliveries := &repository.DeliveryRepository{DB: db}
	optouts := &repository.OptoutRepository{DB: db}
	templates := service.NewTemplateService(&repository.TemplateRepository{DB: db}, cfg.TemplateCacheTTL)
	transport := NewTransport(cfg, log)

	loc, err := time.LoadLocation(cfg.TimeZone)
	if err != nil {
		log.WithError(err).Warnf("⚠️ unknown TIME_ZONE %q, using UTC", cfg.TimeZone)
		loc = time.UTC
	}

	resolver := &service.RecipientResolver{
		Users:     users,
		Directory: directory.NewHTTPDirectory(cfg.DirectoryURL, cfg.DirectoryTimeout, logger.Named(log, "directory")),
		Log:       logger.Named(log, "resolver"),
	}
	tracker := &service.DeliveryTracker{
		Campaigns:  campaigns,
		Deliveries: deliveries,
		Users:      users,
		Transport:  transport,
		Queue:      q,
		Config: service.TrackerConfig{
			BatchSize:             cfg.BatchSize,
			Concurrency:           cfg.SendConcurrency,
			BaseURL:               cfg.BaseURL,
			PlatformName:          cfg.PlatformName,
			From:                  cfg.MailFrom,
			ListUnsubscribeHeader: cfg.ListUnsubscribeHeader,
			ClaimLease:            cfg.ClaimLease,
		},
		Log: logger.Named(log, "tracker"),
	}

	return &App{
		Users: users,
		Campaigns: &service.CampaignService{
			CampaignRepo: campaigns,
			Templates:    templates,
			Resolver:     resolver,
			Tracker:      tracker,
			Log:          logger.Named(log, "campaigns"),
		},
		Tracker: tracker,
		Unsubscribe: &service.UnsubscribeService{
			Users:     users,
			Optouts:   optouts,
			Campaigns: campaigns,
			Log:       logger.Named(log, "unsubscribe"),
		},
		Analytics: &service.AnalyticsService{
			Campaigns: campaigns,
			Users:     users,
			Transport: transport,
			Queue:     q,
			MaxSync:   cfg.AnalyticsMaxSync,
			From:      cfg.MailFrom,
			Location:  loc,
			Log:       logger.Named(log, "analytics"),
		},
		Templates: templates,
	}
}
