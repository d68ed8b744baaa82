package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPath   = "config/config.yaml"
	DefaultDotEnv = ".env"

	NotifierTelegram = "telegram"
	NotifierEmail    = "email"
)

type BreakerConfig struct {
	MaxFailures uint32        `yaml:"max_failures" env:"AMOCRM_BREAKER_FAILURES"`
	OpenTimeout time.Duration `yaml:"open_timeout" env:"AMOCRM_BREAKER_OPEN"`
}

type CRMConfig struct {
	AccountID string        `yaml:"account_id" env:"ACCOUNT_ID"`
	Token     string        `yaml:"token" env:"TOKEN_AMOCRM"`
	Host      string        `yaml:"host" env:"AMOCRM_HOST"`
	BaseURL   string        `yaml:"base_url" env:"AMOCRM_BASE_URL"`
	Timeout   time.Duration `yaml:"timeout" env:"AMOCRM_TIMEOUT"`
	Breaker   BreakerConfig `yaml:"breaker"`
}

type TelegramConfig struct {
	Token    string        `yaml:"token" env:"BOT_TOKEN"`
	ChatID   string        `yaml:"chat_id" env:"ADMIN_ID"`
	Endpoint string        `yaml:"endpoint" env:"TELEGRAM_ENDPOINT"`
	Timeout  time.Duration `yaml:"timeout" env:"TELEGRAM_TIMEOUT"`
}

type EmailConfig struct {
	SMTPHost     string        `yaml:"smtp_host" env:"SMTP_HOST"`
	SMTPPort     int           `yaml:"smtp_port" env:"SMTP_PORT"`
	SMTPUser     string        `yaml:"smtp_user" env:"SMTP_USER"`
	SMTPPassword string        `yaml:"smtp_password" env:"SMTP_PASSWORD"`
	FromEmail    string        `yaml:"from_email" env:"EMAIL_FROM"`
	ToEmail      string        `yaml:"to_email" env:"EMAIL_TO"`
	FontPath     string        `yaml:"font_path" env:"PDF_FONT_PATH"`
	Timeout      time.Duration `yaml:"timeout" env:"SMTP_TIMEOUT"`
}

type ScheduleConfig struct {
	At           string        `yaml:"at" env:"REPORT_AT"`
	Timezone     string        `yaml:"timezone" env:"REPORT_TZ"`
	PollInterval time.Duration `yaml:"poll_interval" env:"REPORT_POLL_INTERVAL"`
	JobTimeout   time.Duration `yaml:"job_timeout" env:"REPORT_JOB_TIMEOUT"`
}

type LogConfig struct {
	File  string `yaml:"file" env:"LOG_FILE"`
	Level string `yaml:"level" env:"LOG_LEVEL"`
}

type ServerConfig struct {
	Port      int    `yaml:"port" env:"OPS_PORT"`
	JWTSecret string `yaml:"jwt_secret" env:"OPS_JWT_SECRET"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB"`
}

type Config struct {
	Notifier string         `yaml:"notifier" env:"NOTIFIER"`
	CRM      CRMConfig      `yaml:"crm"`
	Telegram TelegramConfig `yaml:"telegram"`
	Email    EmailConfig    `yaml:"email"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Log      LogConfig      `yaml:"log"`
	Server   ServerConfig   `yaml:"server"`
	Redis    RedisConfig    `yaml:"redis"`
}

// Default возвращает конфиг со значениями по умолчанию, без секретов.
func Default() *Config {
	return &Config{
		Notifier: NotifierTelegram,
		CRM: CRMConfig{
			Host:    "amocrm.ru",
			Timeout: 15 * time.Second,
			Breaker: BreakerConfig{MaxFailures: 3, OpenTimeout: 5 * time.Minute},
		},
		Telegram: TelegramConfig{Timeout: 15 * time.Second},
		Email:    EmailConfig{SMTPPort: 587, Timeout: 15 * time.Second},
		Schedule: ScheduleConfig{
			At:           "18:00",
			Timezone:     "Local",
			PollInterval: time.Minute,
			JobTimeout:   2 * time.Minute,
		},
		Log: LogConfig{File: "amocrm.log", Level: "info"},
	}
}

type LoadOptions struct {
	// Path к YAML. Пустой путь означает DefaultPath, отсутствие файла
	// по умолчанию не ошибка.
	Path string
	// DotEnv к .env файлу. Отсутствие файла не ошибка.
	DotEnv string
	// Environ в формате os.Environ(); nil означает текущее окружение.
	Environ []string
}

// Load собирает конфиг: defaults → YAML → .env → переменные окружения.
func Load(opts LoadOptions) (*Config, error) {
	cfg := Default()

	path, explicit := opts.Path, opts.Path != ""
	if !explicit {
		path = DefaultPath
	}
	if err := decodeFile(path, cfg); err != nil {
		if !errors.Is(err, os.ErrNotExist) || explicit {
			return nil, err
		}
	}

	vars, err := environment(opts)
	if err != nil {
		return nil, err
	}
	if err := env.ParseWithOptions(cfg, env.Options{Environment: vars}); err != nil {
		return nil, fmt.Errorf("config: parse environment: %w", err)
	}

	normalize(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// environment мержит .env и окружение процесса; окружение побеждает.
func environment(opts LoadOptions) (map[string]string, error) {
	vars := map[string]string{}

	dotenv := opts.DotEnv
	if dotenv == "" {
		dotenv = DefaultDotEnv
	}
	fileVars, err := godotenv.Read(dotenv)
	switch {
	case err == nil:
		for k, v := range fileVars {
			vars[k] = v
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("config: read %s: %w", dotenv, err)
	}

	environ := opts.Environ
	if environ == nil {
		environ = os.Environ()
	}
	for k, v := range env.ToMap(environ) {
		vars[k] = v
	}
	return vars, nil
}

func normalize(cfg *Config) {
	cfg.Notifier = strings.ToLower(strings.TrimSpace(cfg.Notifier))
	cfg.CRM.AccountID = strings.TrimSpace(cfg.CRM.AccountID)
	cfg.CRM.Token = strings.TrimSpace(cfg.CRM.Token)
	cfg.Telegram.Token = strings.TrimSpace(cfg.Telegram.Token)
	cfg.Telegram.ChatID = strings.TrimSpace(cfg.Telegram.ChatID)
}

// ValidationError перечисляет все проблемы конфига сразу.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "config: " + strings.Join(e.Problems, "; ")
}

func (c *Config) Validate() error {
	var problems []string
	missing := func(key, value string) {
		if strings.TrimSpace(value) == "" {
			problems = append(problems, "missing "+key)
		}
	}

	missing("ACCOUNT_ID (crm.account_id)", c.CRM.AccountID)
	missing("TOKEN_AMOCRM (crm.token)", c.CRM.Token)

	switch c.Notifier {
	case NotifierTelegram:
		missing("BOT_TOKEN (telegram.token)", c.Telegram.Token)
		missing("ADMIN_ID (telegram.chat_id)", c.Telegram.ChatID)
	case NotifierEmail:
		missing("SMTP_HOST (email.smtp_host)", c.Email.SMTPHost)
		missing("EMAIL_FROM (email.from_email)", c.Email.FromEmail)
		missing("EMAIL_TO (email.to_email)", c.Email.ToEmail)
	default:
		problems = append(problems, fmt.Sprintf("unknown notifier %q, want telegram or email", c.Notifier))
	}

	if _, err := time.Parse("15:04", c.Schedule.At); err != nil {
		problems = append(problems, fmt.Sprintf("invalid schedule.at %q, want HH:MM", c.Schedule.At))
	}
	if _, err := c.Location(); err != nil {
		problems = append(problems, err.Error())
	}

	positive := func(key string, d time.Duration) {
		if d <= 0 {
			problems = append(problems, key+" must be positive")
		}
	}
	positive("crm.timeout", c.CRM.Timeout)
	positive("schedule.poll_interval", c.Schedule.PollInterval)
	positive("schedule.job_timeout", c.Schedule.JobTimeout)
	// Отправка идёт под своим дедлайном, но запуск обязан вместить оба шага.
	if notify := c.NotifyTimeout(); c.Schedule.JobTimeout > 0 && notify > 0 && c.Schedule.JobTimeout <= c.CRM.Timeout+notify {
		problems = append(problems, fmt.Sprintf("schedule.job_timeout %s must exceed crm.timeout + %s.timeout (%s)",
			c.Schedule.JobTimeout, c.Notifier, c.CRM.Timeout+notify))
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("invalid server.port %d", c.Server.Port))
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// NotifyTimeout отдаёт таймаут выбранного канала уведомлений; 0 для неизвестного.
func (c *Config) NotifyTimeout() time.Duration {
	switch c.Notifier {
	case NotifierTelegram:
		return c.Telegram.Timeout
	case NotifierEmail:
		return c.Email.Timeout
	}
	return 0
}

// Location резолвит schedule.timezone; "Local" и пустая строка дают зону хоста.
func (c *Config) Location() (*time.Location, error) {
	tz := strings.TrimSpace(c.Schedule.Timezone)
	if tz == "" || strings.EqualFold(tz, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule.timezone %q: %w", tz, err)
	}
	return loc, nil
}
