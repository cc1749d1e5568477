package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/burns238/dms-submission/internal/domain/model"
	"github.com/burns238/dms-submission/internal/domain/status"
)

// SubmissionRepository — интерфейс хранилища заявок.
type SubmissionRepository interface {
	// Insert создаёт новую заявку. Отклоняет дубликаты по (owner, id)
	// и по sdes_correlation_id. Проставляет created/last_updated.
	Insert(ctx context.Context, item *model.SubmissionItem) error
	// Get возвращает заявку по владельцу и идентификатору.
	Get(ctx context.Context, owner, id string) (*model.SubmissionItem, error)
	// GetByCorrelationID возвращает заявку по correlation id.
	GetByCorrelationID(ctx context.Context, correlationID string) (*model.SubmissionItem, error)
	// List возвращает заявки владельца с фильтрацией и пагинацией.
	List(ctx context.Context, owner string, filters ListFilters, limit, offset int) ([]*model.SubmissionItem, error)
	// Count возвращает количество заявок владельца с фильтрацией.
	Count(ctx context.Context, owner string, filters ListFilters) (int, error)
	// Update меняет статус и failure_reason заявки по (owner, id).
	// failureReason == nil удаляет прежнюю причину. Проставляет last_updated.
	// Возвращает ErrNothingToUpdate, если заявки нет.
	Update(ctx context.Context, owner, id string, newStatus status.Status, failureReason *string) (*model.SubmissionItem, error)
	// UpdateByCorrelationID — то же по correlation id.
	UpdateByCorrelationID(ctx context.Context, correlationID string, newStatus status.Status, failureReason *string) (*model.SubmissionItem, error)
	// Remove удаляет заявку. Идемпотентна: отсутствие записи — не ошибка.
	Remove(ctx context.Context, owner, id string) error
	// LockAndReplaceOldest захватывает lease на самую старую (по last_updated)
	// заявку в указанном статусе и вызывает f. Результат f замещает запись.
	// Возвращает found=false, если свободных заявок нет.
	LockAndReplaceOldest(ctx context.Context, st status.Status, f ReplaceFunc) (bool, error)
	// MarkCallbackFailed переводит в CallbackFailed все заявки в статусах
	// Processed/Failed с failure_count >= maxFailures. Возвращает количество.
	MarkCallbackFailed(ctx context.Context, maxFailures int) (int, error)
}

// ReplaceFunc — функция обработки захваченной заявки. Возвращает
// замещающую заявку; ключевые поля (owner, id, correlation id) менять нельзя.
type ReplaceFunc func(ctx context.Context, item model.SubmissionItem) (model.SubmissionItem, error)

// ListFilters — фильтры для списка заявок.
type ListFilters struct {
	Status        *status.Status
	CreatedBefore *time.Time
}

// submissionRepo — реализация SubmissionRepository.
type submissionRepo struct {
	db DBTX
	// lockTTL — время, по истечении которого чужой lease считается протухшим
	lockTTL time.Duration
	// nowFunc — источник времени; подменяется в тестах
	nowFunc func() time.Time
}

// NewSubmissionRepository создаёт репозиторий заявок.
func NewSubmissionRepository(db DBTX, lockTTL time.Duration) SubmissionRepository {
	return &submissionRepo{
		db:      db,
		lockTTL: lockTTL,
		nowFunc: defaultNow,
	}
}

// NewSubmissionRepositoryWithClock создаёт репозиторий с подменённым
// источником времени. Используется в тестах для детерминированных
// сценариев протухания lease.
func NewSubmissionRepositoryWithClock(db DBTX, lockTTL time.Duration, now func() time.Time) SubmissionRepository {
	return &submissionRepo{
		db:      db,
		lockTTL: lockTTL,
		nowFunc: now,
	}
}

// defaultNow — UTC с точностью до микросекунды: timestamptz PostgreSQL
// хранит микросекунды, и CAS-сравнение last_updated должно переживать
// round-trip через базу.
func defaultNow() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// submissionColumns — список колонок в порядке сканирования.
const submissionColumns = `owner, id, sdes_correlation_id, callback_url, status,
	object_location, object_content_length, object_content_md5, object_last_modified,
	failure_reason, failure_count, locked_at, created_at, last_updated`

// scanSubmission сканирует одну строку в SubmissionItem.
func scanSubmission(row pgx.Row) (*model.SubmissionItem, error) {
	item := &model.SubmissionItem{}
	err := row.Scan(
		&item.Owner, &item.ID, &item.SdesCorrelationID, &item.CallbackURL, &item.Status,
		&item.ObjectSummary.Location, &item.ObjectSummary.ContentLength,
		&item.ObjectSummary.ContentMd5, &item.ObjectSummary.LastModified,
		&item.FailureReason, &item.FailureCount, &item.LockedAt,
		&item.Created, &item.LastUpdated,
	)
	if err != nil {
		return nil, err
	}
	return item, nil
}

func (r *submissionRepo) Insert(ctx context.Context, item *model.SubmissionItem) error {
	now := r.nowFunc()

	query := `
		INSERT INTO submission_items (owner, id, sdes_correlation_id, callback_url, status,
			object_location, object_content_length, object_content_md5, object_last_modified,
			failure_reason, failure_count, locked_at, created_at, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NULL, $12, $12)`

	_, err := r.db.Exec(ctx, query,
		item.Owner, item.ID, item.SdesCorrelationID, item.CallbackURL, item.Status,
		item.ObjectSummary.Location, item.ObjectSummary.ContentLength,
		item.ObjectSummary.ContentMd5, item.ObjectSummary.LastModified,
		item.FailureReason, item.FailureCount, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: заявка с таким id или correlation id уже есть", ErrConflict)
		}
		return fmt.Errorf("ошибка вставки заявки: %w", err)
	}

	item.LockedAt = nil
	item.Created = now
	item.LastUpdated = now
	return nil
}

func (r *submissionRepo) Get(ctx context.Context, owner, id string) (*model.SubmissionItem, error) {
	query := fmt.Sprintf(`SELECT %s FROM submission_items WHERE owner = $1 AND id = $2`, submissionColumns)

	item, err := scanSubmission(r.db.QueryRow(ctx, query, owner, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения заявки: %w", err)
	}
	return item, nil
}

func (r *submissionRepo) GetByCorrelationID(ctx context.Context, correlationID string) (*model.SubmissionItem, error) {
	query := fmt.Sprintf(`SELECT %s FROM submission_items WHERE sdes_correlation_id = $1`, submissionColumns)

	item, err := scanSubmission(r.db.QueryRow(ctx, query, correlationID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения заявки по correlation id: %w", err)
	}
	return item, nil
}

// buildListWhere строит WHERE-условие и аргументы для фильтрации заявок.
func buildListWhere(owner string, filters ListFilters) (string, []any) {
	conditions := []string{"owner = $1"}
	args := []any{owner}
	argNum := 2

	if filters.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argNum))
		args = append(args, *filters.Status)
		argNum++
	}
	if filters.CreatedBefore != nil {
		conditions = append(conditions, fmt.Sprintf("created_at < $%d", argNum))
		args = append(args, *filters.CreatedBefore)
	}

	return "WHERE " + strings.Join(conditions, " AND "), args
}

func (r *submissionRepo) List(ctx context.Context, owner string, filters ListFilters, limit, offset int) ([]*model.SubmissionItem, error) {
	where, args := buildListWhere(owner, filters)
	argNum := len(args) + 1

	query := fmt.Sprintf(`
		SELECT %s
		FROM submission_items
		%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`, submissionColumns, where, argNum, argNum+1)

	args = append(args, limit, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка заявок: %w", err)
	}
	defer rows.Close()

	var result []*model.SubmissionItem
	for rows.Next() {
		item, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования заявки: %w", err)
		}
		result = append(result, item)
	}
	return result, rows.Err()
}

func (r *submissionRepo) Count(ctx context.Context, owner string, filters ListFilters) (int, error) {
	where, args := buildListWhere(owner, filters)
	query := fmt.Sprintf(`SELECT COUNT(*) FROM submission_items %s`, where)

	var count int
	if err := r.db.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта заявок: %w", err)
	}
	return count, nil
}

func (r *submissionRepo) Update(ctx context.Context, owner, id string, newStatus status.Status, failureReason *string) (*model.SubmissionItem, error) {
	query := fmt.Sprintf(`
		UPDATE submission_items
		SET status = $3, failure_reason = $4, last_updated = $5
		WHERE owner = $1 AND id = $2
		RETURNING %s`, submissionColumns)

	item, err := scanSubmission(r.db.QueryRow(ctx, query, owner, id, newStatus, failureReason, r.nowFunc()))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNothingToUpdate
		}
		return nil, fmt.Errorf("ошибка обновления заявки: %w", err)
	}
	return item, nil
}

func (r *submissionRepo) UpdateByCorrelationID(ctx context.Context, correlationID string, newStatus status.Status, failureReason *string) (*model.SubmissionItem, error) {
	query := fmt.Sprintf(`
		UPDATE submission_items
		SET status = $2, failure_reason = $3, last_updated = $4
		WHERE sdes_correlation_id = $1
		RETURNING %s`, submissionColumns)

	item, err := scanSubmission(r.db.QueryRow(ctx, query, correlationID, newStatus, failureReason, r.nowFunc()))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNothingToUpdate
		}
		return nil, fmt.Errorf("ошибка обновления заявки по correlation id: %w", err)
	}
	return item, nil
}

func (r *submissionRepo) Remove(ctx context.Context, owner, id string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM submission_items WHERE owner = $1 AND id = $2`, owner, id)
	if err != nil {
		return fmt.Errorf("ошибка удаления заявки: %w", err)
	}
	return nil
}

// LockAndReplaceOldest реализует lease-обработку "самой старой" заявки:
//
//  1. Выбирается заявка в статусе st с минимальным last_updated,
//     у которой locked_at пуст или протух (старше lockTTL).
//  2. Lease захватывается CAS-апдейтом: locked_at проставляется только
//     если last_updated не изменился с момента чтения — это исключает
//     двойной захват при конкуренции воркеров.
//  3. Вызывается f. Успех: запись замещается результатом f, locked_at
//     очищается, last_updated проставляется заново. Ошибка: locked_at
//     очищается, статус и last_updated не трогаются, ошибка возвращается.
//
// found=true означает, что lease был захвачен, независимо от исхода f.
func (r *submissionRepo) LockAndReplaceOldest(ctx context.Context, st status.Status, f ReplaceFunc) (bool, error) {
	now := r.nowFunc()
	staleBefore := now.Add(-r.lockTTL)

	selectQuery := fmt.Sprintf(`
		SELECT %s
		FROM submission_items
		WHERE status = $1 AND (locked_at IS NULL OR locked_at < $2)
		ORDER BY last_updated ASC
		LIMIT 1`, submissionColumns)

	item, err := scanSubmission(r.db.QueryRow(ctx, selectQuery, st, staleBefore))
	if err != nil {
		if err == pgx.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("ошибка выборки заявки для lease: %w", err)
	}

	// CAS: захватываем lock, только если запись не изменилась после чтения.
	lockQuery := `
		UPDATE submission_items
		SET locked_at = $4
		WHERE owner = $1 AND id = $2
			AND last_updated = $3
			AND (locked_at IS NULL OR locked_at < $5)`

	tag, err := r.db.Exec(ctx, lockQuery, item.Owner, item.ID, item.LastUpdated, now, staleBefore)
	if err != nil {
		return false, fmt.Errorf("ошибка захвата lease: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Конкурент успел первым — сообщаем "ничего нет", следующий тик повторит.
		return false, nil
	}

	item.LockedAt = &now

	replacement, fErr := f(ctx, *item)
	if fErr != nil {
		// Освобождаем lease, статус и last_updated не трогаем.
		_, unlockErr := r.db.Exec(ctx,
			`UPDATE submission_items SET locked_at = NULL WHERE owner = $1 AND id = $2`,
			item.Owner, item.ID,
		)
		if unlockErr != nil {
			return true, fmt.Errorf("ошибка освобождения lease после отказа обработчика: %w", unlockErr)
		}
		return true, fErr
	}

	replaceQuery := `
		UPDATE submission_items
		SET callback_url = $3, status = $4,
			object_location = $5, object_content_length = $6,
			object_content_md5 = $7, object_last_modified = $8,
			failure_reason = $9, failure_count = $10,
			locked_at = NULL, last_updated = $11
		WHERE owner = $1 AND id = $2`

	_, err = r.db.Exec(ctx, replaceQuery,
		item.Owner, item.ID,
		replacement.CallbackURL, replacement.Status,
		replacement.ObjectSummary.Location, replacement.ObjectSummary.ContentLength,
		replacement.ObjectSummary.ContentMd5, replacement.ObjectSummary.LastModified,
		replacement.FailureReason, replacement.FailureCount,
		r.nowFunc(),
	)
	if err != nil {
		return true, fmt.Errorf("ошибка замещения заявки: %w", err)
	}

	return true, nil
}

func (r *submissionRepo) MarkCallbackFailed(ctx context.Context, maxFailures int) (int, error) {
	query := `
		UPDATE submission_items
		SET status = $1, last_updated = $2
		WHERE failure_count >= $3 AND status IN ($4, $5)`

	tag, err := r.db.Exec(ctx, query,
		status.StatusCallbackFailed, r.nowFunc(), maxFailures,
		status.StatusProcessed, status.StatusFailed,
	)
	if err != nil {
		return 0, fmt.Errorf("ошибка эскалации заявок с неудачным callback: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
