// sdes_worker.go — воркер пересылки заявок в SDES.
//
// Каждый тик вычерпывает очередь Submitted: захватывает lease на самую
// старую заявку, уведомляет SDES и переводит её в Forwarded. Отказ SDES
// оставляет заявку в Submitted (lease снимается), тик завершается —
// повтор на следующем тике.
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

// Prometheus метрики SDES-воркера
var (
	// sdesWorkerRunsTotal — количество тиков воркера.
	sdesWorkerRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dms_sdes_worker_runs_total",
		Help: "Общее количество тиков SDES-воркера",
	})

	// sdesNotificationsTotal — количество уведомлений SDES по результату.
	sdesNotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dms_sdes_notifications_total",
		Help: "Общее количество попыток уведомления SDES",
	}, []string{"result"})

	// sdesWorkerDurationSeconds — длительность тика воркера.
	sdesWorkerDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dms_sdes_worker_duration_seconds",
		Help:    "Длительность тика SDES-воркера в секундах",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	})
)

// SdesNotifier — уведомление SDES о готовности файла заявки.
type SdesNotifier interface {
	Notify(ctx context.Context, item *model.SubmissionItem) error
}

// SdesWorker переводит заявки Submitted → Forwarded.
type SdesWorker struct {
	repo   repository.SubmissionRepository
	sdes   SdesNotifier
	sched  *scheduler.Scheduler
	logger *slog.Logger
}

// NewSdesWorker создаёт SDES-воркер с периодическим расписанием.
func NewSdesWorker(
	repo repository.SubmissionRepository,
	sdes SdesNotifier,
	initialDelay, interval time.Duration,
	logger *slog.Logger,
) *SdesWorker {
	w := &SdesWorker{
		repo:   repo,
		sdes:   sdes,
		logger: logger.With(slog.String("component", "sdes_worker")),
	}
	w.sched = scheduler.New("sdes-worker", initialDelay, interval, w.RunOnce, logger)
	return w
}

// Start запускает расписание воркера.
func (w *SdesWorker) Start(ctx context.Context) {
	w.sched.Start(ctx)
}

// Stop останавливает воркер, дав текущему тику завершиться в пределах deadline.
func (w *SdesWorker) Stop(deadline time.Duration) {
	w.sched.Stop(deadline)
}

// RunOnce — один тик: вычерпывает очередь Submitted до пустоты.
// Ошибки логируются и завершают тик, наружу не распространяются.
func (w *SdesWorker) RunOnce(ctx context.Context) {
	sdesWorkerRunsTotal.Inc()
	start := time.Now()
	defer func() {
		sdesWorkerDurationSeconds.Observe(time.Since(start).Seconds())
	}()

	forwarded := 0
	for {
		if ctx.Err() != nil {
			return
		}

		found, err := w.repo.LockAndReplaceOldest(ctx, status.StatusSubmitted, w.forward)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				w.logger.Error("Ошибка пересылки заявки в SDES, тик завершён",
					slog.String("error", err.Error()),
				)
			}
			return
		}
		if !found {
			break
		}
		forwarded++
	}

	if forwarded > 0 {
		w.logger.Info("Заявки пересланы в SDES", slog.Int("count", forwarded))
	}
}

// forward уведомляет SDES и возвращает заявку в статусе Forwarded.
func (w *SdesWorker) forward(ctx context.Context, item model.SubmissionItem) (model.SubmissionItem, error) {
	if err := w.sdes.Notify(ctx, &item); err != nil {
		sdesNotificationsTotal.WithLabelValues("error").Inc()
		return model.SubmissionItem{}, err
	}
	sdesNotificationsTotal.WithLabelValues("ok").Inc()

	item.Status = status.StatusForwarded
	return item, nil
}
