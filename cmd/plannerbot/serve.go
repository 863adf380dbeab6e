package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"planner-bot/internal/bot"
	"planner-bot/internal/server"
	"planner-bot/internal/service"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bot and the reminder scheduler",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	settingsSvc := service.NewSettingsService(a.store.Users)
	taskSvc := service.NewTaskService(a.store.Tasks, a.store.Notes, a.store.Projects)

	telegramBot, err := bot.New(a.cfg.TelegramToken, a.store.Users, settingsSvc, taskSvc, a.reminders, a.cfg.Location, a.log)
	if err != nil {
		return err
	}

	scheduler := service.NewSchedulerService(a.cfg.Location, a.log)
	if _, err := scheduler.ScheduleEvery(a.cfg.TickInterval, func() {
		a.reminders.Tick(ctx)
	}); err != nil {
		return err
	}
	scheduler.Start()
	defer scheduler.Stop()

	if a.cfg.HTTPAddr != "" {
		srv := server.New(a.reminders, a.log)
		go func() {
			if err := srv.Run(ctx, a.cfg.HTTPAddr); err != nil {
				a.log.WithError(err).Error("status server stopped")
			}
		}()
	}

	a.log.WithField("tick", a.cfg.TickInterval.String()).Info("planner bot started")
	if err := telegramBot.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	a.log.Info("shutdown complete")
	return nil
}
