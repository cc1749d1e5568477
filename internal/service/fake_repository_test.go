package service

import (
	"context"
	"sync"
	"time"

	"github.com/burns238/dms-submission/internal/domain/model"
	"github.com/burns238/dms-submission/internal/domain/status"
	"github.com/burns238/dms-submission/internal/repository"
)

// fakeRepo — in-memory реализация SubmissionRepository для unit-тестов
// воркеров и пайплайна. Повторяет контракт lease: одна заявка — один
// обработчик, отказ обработчика снимает lock и не трогает статус.
type fakeRepo struct {
	mu      sync.Mutex
	items   map[string]*model.SubmissionItem // ключ owner + "|" + id
	lockTTL time.Duration
	now     func() time.Time
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		items:   map[string]*model.SubmissionItem{},
		lockTTL: 30 * time.Second,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func key(owner, id string) string { return owner + "|" + id }

func (r *fakeRepo) Insert(_ context.Context, item *model.SubmissionItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.items[key(item.Owner, item.ID)]; ok {
		return repository.ErrConflict
	}
	for _, it := range r.items {
		if it.SdesCorrelationID == item.SdesCorrelationID {
			return repository.ErrConflict
		}
	}

	now := r.now()
	item.Created = now
	item.LastUpdated = now
	item.LockedAt = nil
	cp := *item
	r.items[key(item.Owner, item.ID)] = &cp
	return nil
}

func (r *fakeRepo) Get(_ context.Context, owner, id string) (*model.SubmissionItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	it, ok := r.items[key(owner, id)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *it
	return &cp, nil
}

func (r *fakeRepo) GetByCorrelationID(_ context.Context, correlationID string) (*model.SubmissionItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, it := range r.items {
		if it.SdesCorrelationID == correlationID {
			cp := *it
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakeRepo) List(_ context.Context, owner string, filters repository.ListFilters, limit, offset int) ([]*model.SubmissionItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []*model.SubmissionItem
	for _, it := range r.items {
		if it.Owner != owner {
			continue
		}
		if filters.Status != nil && it.Status != *filters.Status {
			continue
		}
		if filters.CreatedBefore != nil && !it.Created.Before(*filters.CreatedBefore) {
			continue
		}
		cp := *it
		result = append(result, &cp)
	}
	if offset > len(result) {
		offset = len(result)
	}
	end := offset + limit
	if end > len(result) {
		end = len(result)
	}
	return result[offset:end], nil
}

func (r *fakeRepo) Count(ctx context.Context, owner string, filters repository.ListFilters) (int, error) {
	items, err := r.List(ctx, owner, filters, len(r.items), 0)
	if err != nil {
		return 0, err
	}
	return len(items), nil
}

func (r *fakeRepo) update(match func(*model.SubmissionItem) bool, newStatus status.Status, failureReason *string) (*model.SubmissionItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, it := range r.items {
		if match(it) {
			it.Status = newStatus
			it.FailureReason = failureReason
			it.LastUpdated = r.now()
			cp := *it
			return &cp, nil
		}
	}
	return nil, repository.ErrNothingToUpdate
}

func (r *fakeRepo) Update(_ context.Context, owner, id string, newStatus status.Status, failureReason *string) (*model.SubmissionItem, error) {
	return r.update(func(it *model.SubmissionItem) bool {
		return it.Owner == owner && it.ID == id
	}, newStatus, failureReason)
}

func (r *fakeRepo) UpdateByCorrelationID(_ context.Context, correlationID string, newStatus status.Status, failureReason *string) (*model.SubmissionItem, error) {
	return r.update(func(it *model.SubmissionItem) bool {
		return it.SdesCorrelationID == correlationID
	}, newStatus, failureReason)
}

func (r *fakeRepo) Remove(_ context.Context, owner, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.items, key(owner, id))
	return nil
}

func (r *fakeRepo) LockAndReplaceOldest(ctx context.Context, st status.Status, f repository.ReplaceFunc) (bool, error) {
	r.mu.Lock()
	now := r.now()

	var oldest *model.SubmissionItem
	for _, it := range r.items {
		if it.Status != st {
			continue
		}
		if it.LockedAt != nil && now.Sub(*it.LockedAt) <= r.lockTTL {
			continue
		}
		if oldest == nil || it.LastUpdated.Before(oldest.LastUpdated) {
			oldest = it
		}
	}
	if oldest == nil {
		r.mu.Unlock()
		return false, nil
	}

	oldest.LockedAt = &now
	leased := *oldest
	r.mu.Unlock()

	replacement, err := f(ctx, leased)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		oldest.LockedAt = nil
		return true, err
	}

	oldest.CallbackURL = replacement.CallbackURL
	oldest.Status = replacement.Status
	oldest.ObjectSummary = replacement.ObjectSummary
	oldest.FailureReason = replacement.FailureReason
	oldest.FailureCount = replacement.FailureCount
	oldest.LockedAt = nil
	oldest.LastUpdated = r.now()
	return true, nil
}

func (r *fakeRepo) MarkCallbackFailed(_ context.Context, maxFailures int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, it := range r.items {
		if it.FailureCount >= maxFailures &&
			(it.Status == status.StatusProcessed || it.Status == status.StatusFailed) {
			it.Status = status.StatusCallbackFailed
			it.LastUpdated = r.now()
			n++
		}
	}
	return n, nil
}

var _ repository.SubmissionRepository = (*fakeRepo)(nil)
