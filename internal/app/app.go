package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"amoreport/internal/config"
	"amoreport/internal/crm"
	"amoreport/internal/handlers"
	"amoreport/internal/jobs"
	"amoreport/internal/pdf"
	"amoreport/internal/routes"
	"amoreport/internal/scheduler"
	"amoreport/internal/services"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	cfg    *config.Config
	logger *slog.Logger

	job   *jobs.DailyReport
	sched *scheduler.Scheduler
	redis *redis.Client
}

// New собирает зависимости. Сеть не трогает: токены проверяются при отправке.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	// === CRM ===
	fetcher, err := crm.NewClient(crm.Options{
		AccountID: cfg.CRM.AccountID,
		Token:     cfg.CRM.Token,
		Host:      cfg.CRM.Host,
		BaseURL:   cfg.CRM.BaseURL,
		Timeout:   cfg.CRM.Timeout,
		Breaker: crm.BreakerOptions{
			MaxFailures: cfg.CRM.Breaker.MaxFailures,
			OpenTimeout: cfg.CRM.Breaker.OpenTimeout,
		},
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}

	// === Notifier ===
	notifier, err := newNotifier(cfg, logger)
	if err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, logger: logger}
	a.job = jobs.NewDailyReport(fetcher, notifier, jobs.Options{
		Location:      loc,
		NotifyTimeout: cfg.NotifyTimeout(),
		Logger:        logger,
	})

	// === Lock ===
	var locker scheduler.Locker = scheduler.NoopLocker{}
	if cfg.Redis.Addr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		locker = scheduler.NewRedisLocker(a.redis, uuid.NewString())
	}

	a.sched, err = scheduler.New(scheduler.Options{
		At:           cfg.Schedule.At,
		Location:     loc,
		PollInterval: cfg.Schedule.PollInterval,
		JobTimeout:   cfg.Schedule.JobTimeout,
		Locker:       locker,
		Logger:       logger,
	}, func(ctx context.Context) {
		a.job.Run(ctx)
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

func newNotifier(cfg *config.Config, logger *slog.Logger) (jobs.Notifier, error) {
	switch cfg.Notifier {
	case config.NotifierTelegram:
		return services.NewTelegramService(services.TelegramOptions{
			Token:    cfg.Telegram.Token,
			ChatID:   cfg.Telegram.ChatID,
			Endpoint: cfg.Telegram.Endpoint,
			Timeout:  cfg.Telegram.Timeout,
			Logger:   logger,
		})
	case config.NotifierEmail:
		return services.NewEmailService(services.EmailOptions{
			SMTPHost:     cfg.Email.SMTPHost,
			SMTPPort:     cfg.Email.SMTPPort,
			SMTPUser:     cfg.Email.SMTPUser,
			SMTPPassword: cfg.Email.SMTPPassword,
			FromEmail:    cfg.Email.FromEmail,
			ToEmail:      cfg.Email.ToEmail,
			Renderer:     pdf.NewReportRenderer(cfg.Email.FontPath),
			Timeout:      cfg.Email.Timeout,
			Logger:       logger,
		})
	default:
		return nil, fmt.Errorf("app: unknown notifier %q", cfg.Notifier)
	}
}

// Run крутит планировщик и ops-сервер до отмены ctx.
func (a *App) Run(ctx context.Context) error {
	defer a.close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var srv *http.Server
	srvErr := make(chan error, 1)
	if a.cfg.Server.Port > 0 {
		srv = &http.Server{
			Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
			Handler:           a.router(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			a.logger.Info("[ops] server listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				srvErr <- err
			}
		}()
	}

	schedDone := make(chan struct{})
	go func() {
		a.sched.Start(ctx)
		close(schedDone)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-srvErr:
		runErr = fmt.Errorf("app: ops server: %w", err)
		cancel()
	}

	if srv != nil {
		shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
		defer stop()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("[ops] shutdown failed", "error", err.Error())
		}
	}

	<-schedDone
	// Отменённый ctx прерывает текущий запуск, ждём его выхода.
	a.sched.Wait()
	a.logger.Info("[app] stopped")
	return runErr
}

// RunOnce выполняет один запуск и возвращает его итог.
func (a *App) RunOnce(ctx context.Context) jobs.Result {
	defer a.close()

	ctx, cancel := context.WithTimeout(ctx, a.cfg.Schedule.JobTimeout)
	defer cancel()
	return a.job.Run(ctx)
}

func (a *App) router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(a.logger))

	h := handlers.NewReportHandler(a.sched, a.job, a.logger)
	return routes.SetupRoutes(r, h, a.cfg.Server.JWTSecret)
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("[ops] request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start).String(),
		)
	}
}

func (a *App) close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("[app] redis close failed", "error", err.Error())
		}
	}
}
