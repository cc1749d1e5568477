// Пакет scheduler — периодический запуск фоновых задач.
//
// Гарантии:
//   - первый тик — после initialDelay;
//   - тики одной задачи строго последовательны: затянувшийся тик
//     откладывает следующий, наложение невозможно;
//   - паника внутри задачи перехватывается и логируется, расписание
//     продолжается;
//   - Stop прекращает новые тики сразу, текущему даёт deadline на
//     завершение и лишь затем снимает его контекст.
package scheduler

import (
	"context"
	"log/slog"
	"runtime/debug"
	"time"
)

// Job — функция одного тика. Контекст снимается при жёсткой остановке.
type Job func(ctx context.Context)

// Scheduler запускает одну задачу с фиксированным интервалом.
type Scheduler struct {
	name         string
	initialDelay time.Duration
	interval     time.Duration
	job          Job
	logger       *slog.Logger

	// stopLoop прекращает расписание (новые тики не начинаются)
	stopLoop context.CancelFunc
	// cancelJob жёстко снимает контекст выполняющегося тика
	cancelJob context.CancelFunc
	done      chan struct{}
}

// New создаёт планировщик для задачи name.
func New(name string, initialDelay, interval time.Duration, job Job, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		name:         name,
		initialDelay: initialDelay,
		interval:     interval,
		job:          job,
		logger:       logger.With(slog.String("component", "scheduler"), slog.String("job", name)),
	}
}

// Start запускает фоновую горутину планировщика.
// Вызывается один раз при старте приложения.
func (s *Scheduler) Start(ctx context.Context) {
	loopCtx, stopLoop := context.WithCancel(ctx)
	jobCtx, cancelJob := context.WithCancel(ctx)
	s.stopLoop = stopLoop
	s.cancelJob = cancelJob
	s.done = make(chan struct{})

	go s.run(loopCtx, jobCtx)

	s.logger.Info("Планировщик запущен",
		slog.String("initial_delay", s.initialDelay.String()),
		slog.String("interval", s.interval.String()),
	)
}

// Stop останавливает планировщик: новые тики не начинаются, текущему
// даётся deadline на завершение, после чего его контекст снимается.
// Возвращается только после полной остановки горутины.
func (s *Scheduler) Stop(deadline time.Duration) {
	if s.stopLoop == nil {
		return
	}

	s.stopLoop()

	timer := time.NewTimer(deadline)
	defer timer.Stop()

	select {
	case <-s.done:
		// Текущий тик завершился сам
	case <-timer.C:
		s.logger.Warn("Тик не завершился в отведённый срок, снимаем контекст")
		s.cancelJob()
		<-s.done
	}

	s.cancelJob()
	s.logger.Info("Планировщик остановлен")
}

// run — основной цикл фоновой горутины.
func (s *Scheduler) run(loopCtx, jobCtx context.Context) {
	defer close(s.done)

	// Первый тик — после initialDelay
	delay := time.NewTimer(s.initialDelay)
	defer delay.Stop()

	select {
	case <-loopCtx.Done():
		return
	case <-delay.C:
	}

	s.tick(jobCtx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-loopCtx.Done():
			return
		case <-ticker.C:
			s.tick(jobCtx)
		}
	}
}

// tick выполняет задачу, перехватывая панику: ошибка одного тика
// не должна останавливать расписание.
func (s *Scheduler) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Паника в фоновой задаче",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()

	if ctx.Err() != nil {
		return
	}
	s.job(ctx)
}
