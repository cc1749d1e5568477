// callback_worker.go — воркер уведомления клиентов о терминальном
// исходе обработки.
//
// Каждый тик независимо вычерпывает две очереди — Processed и Failed.
// Ответ 200 переводит заявку в Completed; любой другой исход
// увеличивает failure_count (статус не меняется) и завершает разбор
// этой очереди до следующего тика. Эскалацию исчерпавших попытки
// заявок выполняет FailureWorker.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/burns238/dms-submission/internal/domain/model"
	"github.com/burns238/dms-submission/internal/domain/status"
	"github.com/burns238/dms-submission/internal/repository"
	"github.com/burns238/dms-submission/internal/scheduler"
)

// Prometheus метрики callback-воркера
var (
	// callbackWorkerRunsTotal — количество тиков воркера.
	callbackWorkerRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dms_callback_worker_runs_total",
		Help: "Общее количество тиков callback-воркера",
	})

	// callbacksTotal — количество попыток callback по результату.
	callbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dms_callbacks_total",
		Help: "Общее количество попыток callback-уведомления клиентов",
	}, []string{"result"})

	// callbackWorkerDurationSeconds — длительность тика воркера.
	callbackWorkerDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dms_callback_worker_duration_seconds",
		Help:    "Длительность тика callback-воркера в секундах",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	})
)

// CallbackNotifier — доставка callback-уведомления клиенту.
// Ошибка означает недоставку (не-200 или сетевой сбой).
type CallbackNotifier interface {
	Notify(ctx context.Context, item *model.SubmissionItem) error
}

// CallbackWorker доставляет уведомления по заявкам Processed/Failed.
type CallbackWorker struct {
	repo     repository.SubmissionRepository
	notifier CallbackNotifier
	sched    *scheduler.Scheduler
	logger   *slog.Logger
}

// NewCallbackWorker создаёт callback-воркер с периодическим расписанием.
func NewCallbackWorker(
	repo repository.SubmissionRepository,
	notifier CallbackNotifier,
	initialDelay, interval time.Duration,
	logger *slog.Logger,
) *CallbackWorker {
	w := &CallbackWorker{
		repo:     repo,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "callback_worker")),
	}
	w.sched = scheduler.New("callback-worker", initialDelay, interval, w.RunOnce, logger)
	return w
}

// Start запускает расписание воркера.
func (w *CallbackWorker) Start(ctx context.Context) {
	w.sched.Start(ctx)
}

// Stop останавливает воркер, дав текущему тику завершиться в пределах deadline.
func (w *CallbackWorker) Stop(deadline time.Duration) {
	w.sched.Stop(deadline)
}

// RunOnce — один тик: разбор очередей Processed и Failed.
func (w *CallbackWorker) RunOnce(ctx context.Context) {
	callbackWorkerRunsTotal.Inc()
	start := time.Now()
	defer func() {
		callbackWorkerDurationSeconds.Observe(time.Since(start).Seconds())
	}()

	w.drain(ctx, status.StatusProcessed)
	w.drain(ctx, status.StatusFailed)
}

// drain вычерпывает одну очередь до пустоты либо до первой недоставки.
func (w *CallbackWorker) drain(ctx context.Context, st status.Status) {
	for {
		if ctx.Err() != nil {
			return
		}

		var delivered bool
		found, err := w.repo.LockAndReplaceOldest(ctx, st,
			func(ctx context.Context, item model.SubmissionItem) (model.SubmissionItem, error) {
				if nErr := w.notifier.Notify(ctx, &item); nErr != nil {
					// Недоставка — фиксируем попытку, статус не меняем
					callbacksTotal.WithLabelValues("failed").Inc()
					w.logger.Warn("Callback не доставлен",
						slog.String("id", item.ID),
						slog.String("owner", item.Owner),
						slog.Int("failure_count", item.FailureCount+1),
						slog.String("error", nErr.Error()),
					)
					item.FailureCount++
					delivered = false
					return item, nil
				}
				callbacksTotal.WithLabelValues("delivered").Inc()
				item.Status = status.StatusCompleted
				delivered = true
				return item, nil
			})
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				w.logger.Error("Ошибка разбора callback-очереди, тик завершён",
					slog.String("queue", string(st)),
					slog.String("error", err.Error()),
				)
			}
			return
		}
		if !found {
			return
		}
		if !delivered {
			// Одна попытка на заявку за тик: очередь оставляем до следующего тика
			return
		}
	}
}
