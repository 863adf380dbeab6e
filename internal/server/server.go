package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"planner-bot/internal/service"
)

// ReportSource exposes the outcome of the last reminder pass.
type ReportSource interface {
	LastReport() (service.PassReport, bool)
}

// Server serves health and reminder status over HTTP.
type Server struct {
	echo *echo.Echo
	log  *logrus.Logger
}

func New(reports ReportSource, log *logrus.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/status", func(c echo.Context) error {
		report, ok := reports.LastReport()
		if !ok {
			return c.JSON(http.StatusOK, map[string]string{"status": "no pass yet"})
		}
		return c.JSON(http.StatusOK, report)
	})

	return &Server{echo: e, log: log}
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Run listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", addr).Info("status server listening")
		errCh <- s.echo.Start(addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.echo.Shutdown(shutdownCtx)
}
