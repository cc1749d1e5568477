// failure_worker.go — воркер эскалации заявок с недоставляемым callback.
//
// Заявки Processed/Failed, у которых failure_count достиг максимума,
// переводятся в терминальный CallbackFailed: недоступный клиентский
// endpoint не должен вечно занимать место в callback-очереди.
// Заявки CallbackFailed разбираются оператором отдельно.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/burns238/dms-submission/internal/repository"
	"github.com/burns238/dms-submission/internal/scheduler"
)

// Prometheus метрики failure-воркера
var (
	// failureWorkerRunsTotal — количество тиков воркера.
	failureWorkerRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dms_failure_worker_runs_total",
		Help: "Общее количество тиков failure-воркера",
	})

	// callbackFailedTotal — количество заявок, переведённых в CallbackFailed.
	callbackFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dms_callback_failed_total",
		Help: "Общее количество заявок, переведённых в CallbackFailed",
	})
)

// FailureWorker эскалирует заявки с исчерпанными попытками callback.
type FailureWorker struct {
	repo        repository.SubmissionRepository
	maxFailures int
	sched       *scheduler.Scheduler
	logger      *slog.Logger
}

// NewFailureWorker создаёт failure-воркер с периодическим расписанием.
func NewFailureWorker(
	repo repository.SubmissionRepository,
	maxFailures int,
	initialDelay, interval time.Duration,
	logger *slog.Logger,
) *FailureWorker {
	w := &FailureWorker{
		repo:        repo,
		maxFailures: maxFailures,
		logger:      logger.With(slog.String("component", "failure_worker")),
	}
	w.sched = scheduler.New("failure-worker", initialDelay, interval, w.RunOnce, logger)
	return w
}

// Start запускает расписание воркера.
func (w *FailureWorker) Start(ctx context.Context) {
	w.sched.Start(ctx)
}

// Stop останавливает воркер, дав текущему тику завершиться в пределах deadline.
func (w *FailureWorker) Stop(deadline time.Duration) {
	w.sched.Stop(deadline)
}

// RunOnce — один тик эскалации.
func (w *FailureWorker) RunOnce(ctx context.Context) {
	failureWorkerRunsTotal.Inc()

	n, err := w.repo.MarkCallbackFailed(ctx, w.maxFailures)
	if err != nil {
		w.logger.Error("Ошибка эскалации заявок", slog.String("error", err.Error()))
		return
	}
	if n > 0 {
		callbackFailedTotal.Add(float64(n))
		w.logger.Warn("Заявки переведены в CallbackFailed",
			slog.Int("count", n),
			slog.Int("max_failures", w.maxFailures),
		)
	}
}
