package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"amoreport/internal/crm"
	"amoreport/internal/models"
	"amoreport/internal/report"
	"amoreport/internal/services"
)

type DealFetcher interface {
	FetchDeals(ctx context.Context) ([]models.Deal, error)
}

type Notifier interface {
	Notify(ctx context.Context, text string) error
}

type Outcome string

const (
	OutcomeReport         Outcome = "report"
	OutcomeNoData         Outcome = "no_data"
	OutcomeFetchFailed    Outcome = "fetch_failed"
	OutcomePipelineFailed Outcome = "pipeline_failed"
)

type state string

const (
	stateFetching       state = "fetching"
	stateAggregating    state = "aggregating"
	stateFormatting     state = "formatting"
	stateNotifying      state = "notifying"
	stateErrorNotifying state = "error_notifying"
	stateDone           state = "done"
)

// Result describes one finished invocation.
type Result struct {
	RunID      string    `json:"run_id"`
	Day        string    `json:"day"`
	Outcome    Outcome   `json:"outcome"`
	Owners     int       `json:"owners"`
	Delivered  bool      `json:"delivered"`
	FetchError string    `json:"fetch_error,omitempty"`
	SendError  string    `json:"send_error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

const DefaultNotifyTimeout = 15 * time.Second

type Options struct {
	Location *time.Location
	Now      func() time.Time
	// NotifyTimeout bounds delivery independently of the run deadline.
	NotifyTimeout time.Duration
	Logger        *slog.Logger
}

// DailyReport is the fetch → aggregate → format → notify pipeline. Each Run
// sends exactly one message: the report, a no-data notice or a failure notice.
type DailyReport struct {
	fetcher  DealFetcher
	notifier Notifier
	loc      *time.Location
	now      func() time.Time
	logger   *slog.Logger

	notifyTimeout time.Duration

	mu   sync.RWMutex
	last *Result
}

func NewDailyReport(fetcher DealFetcher, notifier Notifier, opts Options) *DailyReport {
	j := &DailyReport{
		fetcher:  fetcher,
		notifier: notifier,
		loc:      opts.Location,
		now:      opts.Now,
		logger:   opts.Logger,

		notifyTimeout: opts.NotifyTimeout,
	}
	if j.notifyTimeout <= 0 {
		j.notifyTimeout = DefaultNotifyTimeout
	}
	if j.loc == nil {
		j.loc = time.Local
	}
	if j.now == nil {
		j.now = time.Now
	}
	if j.logger == nil {
		j.logger = slog.Default()
	}
	return j
}

// Run never returns an error and never panics; the outcome is in Result.
func (j *DailyReport) Run(ctx context.Context) Result {
	started := j.now()
	day := started.In(j.loc)
	res := Result{
		RunID:     uuid.NewString(),
		Day:       day.Format("2006-01-02"),
		StartedAt: started,
	}
	log := j.logger.With("run_id", res.RunID, "day", res.Day)

	text := j.build(ctx, log, day, &res)

	j.transition(log, stateNotifying)
	if err := j.notify(ctx, text); err != nil {
		attrs := []any{"outcome", string(res.Outcome), "error", err.Error()}
		var notifyErr *services.NotifyError
		if errors.As(err, &notifyErr) {
			attrs = append(attrs, "kind", string(notifyErr.Kind))
		}
		log.Error("[job] notification failed", attrs...)
		res.SendError = err.Error()
	} else {
		res.Delivered = true
	}

	res.FinishedAt = j.now()
	j.transition(log, stateDone, "outcome", string(res.Outcome), "delivered", res.Delivered)

	j.mu.Lock()
	j.last = &res
	j.mu.Unlock()
	return res
}

// Last returns the most recent result, if any run has finished.
func (j *DailyReport) Last() (Result, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.last == nil {
		return Result{}, false
	}
	return *j.last, true
}

// build walks fetching → aggregating → formatting and returns the text to
// send. Any failure switches to the error-notifying branch.
func (j *DailyReport) build(ctx context.Context, log *slog.Logger, day time.Time, res *Result) (text string) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("[job] pipeline panicked", "panic", fmt.Sprint(r))
			j.transition(log, stateErrorNotifying, "reason", "panic")
			res.Outcome = OutcomePipelineFailed
			text = report.FormatFailure(day)
		}
	}()

	j.transition(log, stateFetching)
	deals, err := j.fetcher.FetchDeals(ctx)
	if err != nil {
		kind := "unknown"
		var crmErr *crm.Error
		if errors.As(err, &crmErr) {
			kind = string(crmErr.Kind)
		}
		log.Error("[job] fetch failed", "kind", kind, "error", err.Error())
		j.transition(log, stateErrorNotifying, "reason", "fetch_failed")
		res.Outcome = OutcomeFetchFailed
		res.FetchError = err.Error()
		return report.FormatFailure(day)
	}

	j.transition(log, stateAggregating, "deals", len(deals))
	revenue := report.Aggregate(deals, day)
	res.Owners = len(revenue)
	if len(revenue) == 0 {
		j.transition(log, stateErrorNotifying, "reason", "no_data")
		res.Outcome = OutcomeNoData
		return report.FormatNoData(day)
	}

	j.transition(log, stateFormatting, "owners", len(revenue), "total", revenue.Total().String())
	res.Outcome = OutcomeReport
	return report.Format(revenue, day)
}

// notify runs under its own deadline, detached from the run's.
func (j *DailyReport) notify(ctx context.Context, text string) (err error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), j.notifyTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("notifier panicked: %v", r)
		}
	}()
	return j.notifier.Notify(ctx, text)
}

func (j *DailyReport) transition(log *slog.Logger, to state, attrs ...any) {
	log.Info("[job] "+string(to), attrs...)
}
