package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"gopkg.in/gomail.v2"

	"amoreport/internal/pdf"
)

const reportAttachmentName = "revenue-report.pdf"

type mailSender interface {
	DialAndSend(m ...*gomail.Message) error
}

type EmailOptions struct {
	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	FromEmail    string
	ToEmail      string
	Renderer     pdf.Renderer
	// Timeout ограничивает одну отправку; 0 значит только ctx.
	Timeout time.Duration
	Logger  *slog.Logger
	Now     func() time.Time
}

// EmailService delivers the same notices as TelegramService, by mail, with
// the text also attached as a PDF when a renderer is configured.
type EmailService struct {
	sender   mailSender
	from     string
	to       string
	renderer pdf.Renderer
	timeout  time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

func NewEmailService(opts EmailOptions) (*EmailService, error) {
	if strings.TrimSpace(opts.SMTPHost) == "" {
		return nil, errors.New("email: smtp host must be set")
	}
	if strings.TrimSpace(opts.FromEmail) == "" || strings.TrimSpace(opts.ToEmail) == "" {
		return nil, errors.New("email: from and to addresses must be set")
	}

	dialer := gomail.NewDialer(opts.SMTPHost, opts.SMTPPort, opts.SMTPUser, opts.SMTPPassword)
	return newEmailService(dialer, opts), nil
}

func newEmailService(sender mailSender, opts EmailOptions) *EmailService {
	s := &EmailService{
		sender:   sender,
		from:     strings.TrimSpace(opts.FromEmail),
		to:       strings.TrimSpace(opts.ToEmail),
		renderer: opts.Renderer,
		timeout:  opts.Timeout,
		logger:   opts.Logger,
		now:      opts.Now,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func (s *EmailService) Notify(ctx context.Context, text string) error {
	subject := firstLine(text)
	s.logger.Info("[email][send] start", "to", s.to, "subject", subject)

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", s.to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", text)

	if s.renderer != nil {
		doc, err := s.renderer.RenderReport(pdf.ReportData{
			Title:       subject,
			Body:        text,
			GeneratedAt: s.now(),
		})
		if err != nil {
			notifyErr := &NotifyError{Kind: NotifyBadRequest, Message: "could not build report attachment", Err: err}
			s.logger.Error("[email][send] failed", "kind", string(notifyErr.Kind), "error", notifyErr.Error())
			return notifyErr
		}
		m.Attach(reportAttachmentName, gomail.SetCopyFunc(func(w io.Writer) error {
			_, err := w.Write(doc)
			return err
		}))
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		done <- s.sender.DialAndSend(m)
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		notifyErr := &NotifyError{Kind: NotifyTransport, Message: "smtp delivery failed", Err: err}
		s.logger.Error("[email][send] failed", "kind", string(notifyErr.Kind), "error", notifyErr.Error())
		return notifyErr
	}

	s.logger.Info("[email][send] finished", "to", s.to)
	return nil
}

func firstLine(text string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(text), "\n")
	line = strings.TrimSuffix(strings.TrimSpace(line), ":")
	if line == "" {
		return "Revenue report"
	}
	return line
}
