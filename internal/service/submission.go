// submission.go — пайплайн приёма заявки и применение результата SDES.
//
// Приём заявки:
//  1. Рабочая директория (освобождается на любом пути выхода)
//  2. Генерация correlation id и, при отсутствии, submission reference
//  3. metadata.xml из полей запроса
//  4. zip: PDF + metadata.xml
//  5. Загрузка zip в object store ({correlationId}.zip)
//  6. Вставка заявки в статусе Submitted
//
// Откат: при ошибке любого шага рабочая директория удаляется; уже
// загруженный объект остаётся (осиротевшие объекты вычищает оператор).
package service

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/burns238/dms-submission/internal/config"
	"github.com/burns238/dms-submission/internal/domain/model"
	"github.com/burns238/dms-submission/internal/domain/status"
	"github.com/burns238/dms-submission/internal/objectstore"
	"github.com/burns238/dms-submission/internal/repository"
)

// Prometheus метрики приёма заявок
var (
	// submissionsTotal — количество принятых/отклонённых заявок.
	submissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dms_submissions_total",
		Help: "Общее количество обработанных запросов на приём заявки",
	}, []string{"result"})

	// submissionSizeBytes — размер принимаемых PDF.
	submissionSizeBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dms_submission_size_bytes",
		Help:    "Размер принимаемых PDF в байтах",
		Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
	})
)

// SubmitRequest — провалидированный запрос на приём заявки.
type SubmitRequest struct {
	// SubmissionReference — идентификатор заявки от клиента; пустая
	// строка означает «сгенерировать»
	SubmissionReference string
	// CallbackURL — адрес уведомления о терминальном статусе
	CallbackURL string
	// Metadata — маршрутная метаинформация
	Metadata model.SubmissionMetadata
}

// SubmitResult — ответ пайплайна приёма.
type SubmitResult struct {
	ID     string        `json:"id"`
	Status status.Status `json:"status"`
}

// TxRepoRunner выполняет fn на репозитории, привязанном к транзакции.
// Подменяется в тестах фейковым исполнителем без базы.
type TxRepoRunner func(ctx context.Context, fn func(repo repository.SubmissionRepository) error) error

// NewTxRepoRunner создаёт исполнитель транзакций поверх pgxpool.
func NewTxRepoRunner(pool *pgxpool.Pool, lockTTL time.Duration) TxRepoRunner {
	runner := repository.NewTxRunner(pool)
	return func(ctx context.Context, fn func(repo repository.SubmissionRepository) error) error {
		return runner.RunInTx(ctx, func(tx pgx.Tx) error {
			return fn(repository.NewSubmissionRepository(tx, lockTTL))
		})
	}
}

// SubmissionService — пайплайн приёма заявок и применение статусов SDES.
type SubmissionService struct {
	cfg    *config.Config
	repo   repository.SubmissionRepository
	inTx   TxRepoRunner
	store  objectstore.Client
	logger *slog.Logger
}

// NewSubmissionService создаёт сервис заявок.
func NewSubmissionService(
	cfg *config.Config,
	repo repository.SubmissionRepository,
	inTx TxRepoRunner,
	store objectstore.Client,
	logger *slog.Logger,
) *SubmissionService {
	return &SubmissionService{
		cfg:    cfg,
		repo:   repo,
		inTx:   inTx,
		store:  store,
		logger: logger.With(slog.String("component", "submission_service")),
	}
}

// Submit выполняет пайплайн приёма заявки. Запрос должен быть
// провалидирован вызывающей стороной (HTTP handler).
func (s *SubmissionService) Submit(ctx context.Context, owner string, req SubmitRequest, pdf io.Reader) (*SubmitResult, error) {
	// 1. Рабочая директория; удаление гарантировано defer-ом
	workDir, err := os.MkdirTemp("", "dms-submission-*")
	if err != nil {
		submissionsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("создание рабочей директории: %w", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(workDir); rmErr != nil {
			s.logger.Error("Не удалось удалить рабочую директорию",
				slog.String("dir", workDir),
				slog.String("error", rmErr.Error()),
			)
		}
	}()

	// 2. Идентификаторы
	correlationID := uuid.New().String()
	reference := req.SubmissionReference
	if reference == "" {
		reference = uuid.New().String()
	}

	// 3. PDF во временный файл
	pdfPath := filepath.Join(workDir, "form.pdf")
	pdfSize, err := copyToFile(pdfPath, pdf)
	if err != nil {
		submissionsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("сохранение PDF: %w", err)
	}
	submissionSizeBytes.Observe(float64(pdfSize))

	// 4. metadata.xml
	metadataPath, err := writeMetadataXML(workDir, reference, req.Metadata)
	if err != nil {
		submissionsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	// 5. zip: PDF + metadata.xml
	zipPath := filepath.Join(workDir, correlationID+".zip")
	if err := buildZip(zipPath, pdfPath, metadataPath); err != nil {
		submissionsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	// 6. Загрузка в object store
	summary, err := s.uploadZip(ctx, correlationID+".zip", zipPath)
	if err != nil {
		submissionsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: %s", ErrTransient, err.Error())
	}

	// 7. Вставка заявки
	item := &model.SubmissionItem{
		ID:                reference,
		Owner:             owner,
		SdesCorrelationID: correlationID,
		CallbackURL:       req.CallbackURL,
		Status:            status.StatusSubmitted,
		ObjectSummary:     summary,
	}
	if err := s.repo.Insert(ctx, item); err != nil {
		// Загруженный объект остаётся осиротевшим, см. комментарий пакета
		if errors.Is(err, repository.ErrConflict) {
			submissionsTotal.WithLabelValues("duplicate").Inc()
		} else {
			submissionsTotal.WithLabelValues("error").Inc()
		}
		return nil, err
	}

	submissionsTotal.WithLabelValues("accepted").Inc()
	s.logger.Info("Заявка принята",
		slog.String("owner", owner),
		slog.String("id", reference),
		slog.String("correlation_id", correlationID),
		slog.Int64("pdf_size", pdfSize),
	)

	return &SubmitResult{ID: reference, Status: status.StatusSubmitted}, nil
}

// ApplySdesOutcome применяет результат обработки SDES к заявке по
// correlation id. Допустимые целевые статусы — Processed и Failed.
// Проверка перехода и обновление выполняются в одной транзакции.
func (s *SubmissionService) ApplySdesOutcome(ctx context.Context, correlationID string, target status.Status, failureReason *string) (*model.SubmissionItem, error) {
	if target != status.StatusProcessed && target != status.StatusFailed {
		return nil, fmt.Errorf("%w: SDES может сообщить только Processed или Failed, получен %q", ErrInvalidTransition, target)
	}

	var updated *model.SubmissionItem
	err := s.inTx(ctx, func(repo repository.SubmissionRepository) error {
		item, err := repo.GetByCorrelationID(ctx, correlationID)
		if err != nil {
			return err
		}

		if !status.CanTransition(item.Status, target) {
			return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, item.Status, target)
		}

		updated, err = repo.UpdateByCorrelationID(ctx, correlationID, target, failureReason)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Статус заявки обновлён по уведомлению SDES",
		slog.String("correlation_id", correlationID),
		slog.String("status", string(target)),
	)

	return updated, nil
}

// Get возвращает заявку владельца.
func (s *SubmissionService) Get(ctx context.Context, owner, id string) (*model.SubmissionItem, error) {
	return s.repo.Get(ctx, owner, id)
}

// List возвращает заявки владельца с фильтрацией и общим количеством.
func (s *SubmissionService) List(ctx context.Context, owner string, filters repository.ListFilters, limit, offset int) ([]*model.SubmissionItem, int, error) {
	items, err := s.repo.List(ctx, owner, filters, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.repo.Count(ctx, owner, filters)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// uploadZip открывает zip-файл и отдаёт его в object store.
func (s *SubmissionService) uploadZip(ctx context.Context, key, zipPath string) (model.ObjectSummary, error) {
	f, err := os.Open(zipPath)
	if err != nil {
		return model.ObjectSummary{}, fmt.Errorf("открытие zip: %w", err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return model.ObjectSummary{}, fmt.Errorf("stat zip: %w", err)
	}

	return s.store.Put(ctx, key, f, stat.Size(), "application/zip")
}

// copyToFile сохраняет поток в файл и возвращает количество байт.
func copyToFile(path string, r io.Reader) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	n, err := io.Copy(f, r)
	if err != nil {
		return 0, err
	}
	return n, f.Close()
}

// buildZip собирает zip-архив из перечисленных файлов.
func buildZip(zipPath string, files ...string) error {
	out, err := os.Create(zipPath)
	if err != nil {
		return fmt.Errorf("создание zip: %w", err)
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	for _, file := range files {
		if err := addToZip(zw, file); err != nil {
			zw.Close()
			return err
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("закрытие zip: %w", err)
	}
	return out.Close()
}

// addToZip добавляет файл в архив под его базовым именем.
func addToZip(zw *zip.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("открытие %s: %w", path, err)
	}
	defer f.Close()

	w, err := zw.Create(filepath.Base(path))
	if err != nil {
		return fmt.Errorf("добавление %s в zip: %w", path, err)
	}
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("запись %s в zip: %w", path, err)
	}
	return nil
}
