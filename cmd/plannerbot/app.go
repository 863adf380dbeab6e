package main

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"planner-bot/internal/bot"
	"planner-bot/internal/config"
	"planner-bot/internal/repository"
	"planner-bot/internal/service"
)

// app holds the dependencies shared by the commands.
type app struct {
	cfg       config.Config
	log       *logrus.Logger
	db        *gorm.DB
	store     *repository.Store
	reminders *service.ReminderService
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	log, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}

	db, err := repository.NewDB(cfg.DatabaseURL, log)
	if err != nil {
		return nil, fmt.Errorf("db: %w", err)
	}

	store := repository.NewStore(db, repository.UserDefaults{
		DigestHour:   cfg.DefaultDigestHour,
		DigestMinute: cfg.DefaultDigestMinute,
	})

	sender, err := bot.NewSender(cfg.TelegramToken, cfg.SendTimeout)
	if err != nil {
		return nil, fmt.Errorf("sender: %w", err)
	}

	reminders := service.NewReminderService(store, sender, log, reminderOptions(cfg))

	return &app{cfg: cfg, log: log, db: db, store: store, reminders: reminders}, nil
}

// sendGrace keeps the engine waiting a little past the sender's HTTP timeout,
// so a request always settles before the pass counts it as failed.
const sendGrace = 2 * time.Second

func reminderOptions(cfg config.Config) service.ReminderOptions {
	return service.ReminderOptions{
		Location:     cfg.Location,
		Tolerance:    cfg.ReminderTolerance,
		LookBack:     2 * cfg.TickInterval,
		CatchUp:      cfg.DigestCatchUp,
		SendTimeout:  cfg.SendTimeout + sendGrace,
		StoreTimeout: cfg.StoreTimeout,
	}
}

func (a *app) Close() {
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

func newLogger(cfg config.Config) (*logrus.Logger, error) {
	log := logrus.New()
	log.SetOutput(os.Stdout)

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	log.SetLevel(level)

	switch cfg.LogFormat {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	case "text":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, fmt.Errorf("LOG_FORMAT: unknown format %q", cfg.LogFormat)
	}
	return log, nil
}
