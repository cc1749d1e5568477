package service

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/burns238/dms-submission/internal/config"
	"github.com/burns238/dms-submission/internal/domain/model"
	"github.com/burns238/dms-submission/internal/domain/status"
	"github.com/burns238/dms-submission/internal/repository"
)

// fakeStore — in-memory object store, запоминающий загруженные объекты.
type fakeStore struct {
	objects map[string][]byte
	putErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: map[string][]byte{}}
}

func (s *fakeStore) Put(_ context.Context, key string, r io.Reader, size int64, _ string) (model.ObjectSummary, error) {
	if s.putErr != nil {
		return model.ObjectSummary{}, s.putErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return model.ObjectSummary{}, err
	}
	s.objects[key] = data
	return model.ObjectSummary{
		Location:      "dms-submission/" + key,
		ContentLength: size,
		ContentMd5:    "vyGp6PvFo4RvsFtPoIWeCQ==",
		LastModified:  time.Now().UTC(),
	}, nil
}

func (s *fakeStore) Remove(_ context.Context, key string) error {
	delete(s.objects, key)
	return nil
}

// fakeTxRunner выполняет fn на том же фейковом репозитории без транзакции.
func fakeTxRunner(repo repository.SubmissionRepository) TxRepoRunner {
	return func(ctx context.Context, fn func(repo repository.SubmissionRepository) error) error {
		return fn(repo)
	}
}

func submitRequest(reference string) SubmitRequest {
	return SubmitRequest{
		SubmissionReference: reference,
		CallbackURL:         "http://client.mdtp/cb",
		Metadata: model.SubmissionMetadata{
			Store:              true,
			Source:             "online-form",
			TimeOfReceipt:      time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC),
			FormID:             "SA100",
			CustomerID:         "AB123456C",
			SubmissionMark:     "mark-1",
			CasKey:             "cas-1",
			ClassificationType: "class-1",
			BusinessArea:       "PSA",
		},
	}
}

func newService(repo repository.SubmissionRepository, store *fakeStore) *SubmissionService {
	cfg := &config.Config{LockTTL: 30 * time.Second}
	return NewSubmissionService(cfg, repo, fakeTxRunner(repo), store, testLogger())
}

func TestSubmitHappyPath(t *testing.T) {
	repo := newFakeRepo()
	store := newFakeStore()
	svc := newService(repo, store)

	pdf := strings.NewReader("%PDF-1.7 fake content")
	result, err := svc.Submit(context.Background(), "hmrc-forms", submitRequest("ref-1"), pdf)
	if err != nil {
		t.Fatalf("Submit() ошибка: %v", err)
	}

	if result.ID != "ref-1" {
		t.Errorf("ID = %q, хотели ref-1", result.ID)
	}
	if result.Status != status.StatusSubmitted {
		t.Errorf("Status = %q, хотели Submitted", result.Status)
	}

	// Заявка в репозитории
	item, err := repo.Get(context.Background(), "hmrc-forms", "ref-1")
	if err != nil {
		t.Fatalf("Get() ошибка: %v", err)
	}
	if item.SdesCorrelationID == "" {
		t.Error("correlation id должен быть сгенерирован")
	}
	if item.ObjectSummary.Location == "" {
		t.Error("object summary должна быть заполнена")
	}

	// В object store ровно один объект {correlationId}.zip
	if len(store.objects) != 1 {
		t.Fatalf("в object store %d объектов, хотели 1", len(store.objects))
	}
	data, ok := store.objects[item.SdesCorrelationID+".zip"]
	if !ok {
		t.Fatalf("объект %s.zip не найден", item.SdesCorrelationID)
	}

	// Архив содержит form.pdf и metadata.xml
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("загруженный объект не является zip: %v", err)
	}
	names := map[string]bool{}
	for _, f := range zr.File {
		names[f.Name] = true
	}
	if !names["form.pdf"] || !names["metadata.xml"] {
		t.Errorf("состав архива %v, хотели form.pdf и metadata.xml", names)
	}

	// metadata.xml содержит поля запроса
	xmlFile, err := zr.Open("metadata.xml")
	if err != nil {
		t.Fatalf("открытие metadata.xml: %v", err)
	}
	defer xmlFile.Close()
	xmlData, _ := io.ReadAll(xmlFile)
	for _, want := range []string{"SA100", "AB123456C", "ref-1", "01/03/2024 12:30:00"} {
		if !strings.Contains(string(xmlData), want) {
			t.Errorf("metadata.xml не содержит %q", want)
		}
	}
}

func TestSubmitGeneratesReference(t *testing.T) {
	repo := newFakeRepo()
	svc := newService(repo, newFakeStore())

	result, err := svc.Submit(context.Background(), "hmrc-forms", submitRequest(""), strings.NewReader("pdf"))
	if err != nil {
		t.Fatalf("Submit() ошибка: %v", err)
	}
	if result.ID == "" {
		t.Error("при пустом reference идентификатор должен быть сгенерирован")
	}
}

func TestSubmitDuplicateReference(t *testing.T) {
	repo := newFakeRepo()
	svc := newService(repo, newFakeStore())

	if _, err := svc.Submit(context.Background(), "hmrc-forms", submitRequest("dup"), strings.NewReader("pdf")); err != nil {
		t.Fatalf("первый Submit() ошибка: %v", err)
	}
	_, err := svc.Submit(context.Background(), "hmrc-forms", submitRequest("dup"), strings.NewReader("pdf"))
	if !errors.Is(err, repository.ErrConflict) {
		t.Errorf("повторный Submit() = %v, хотели ErrConflict", err)
	}
}

func TestSubmitObjectStoreFailure(t *testing.T) {
	repo := newFakeRepo()
	store := newFakeStore()
	store.putErr = errors.New("object store недоступен")
	svc := newService(repo, store)

	_, err := svc.Submit(context.Background(), "hmrc-forms", submitRequest("ref-1"), strings.NewReader("pdf"))
	if !errors.Is(err, ErrTransient) {
		t.Errorf("Submit() при сбое object store = %v, хотели ErrTransient", err)
	}

	// Заявка не должна появиться
	if _, err := repo.Get(context.Background(), "hmrc-forms", "ref-1"); !errors.Is(err, repository.ErrNotFound) {
		t.Error("заявка не должна быть вставлена при сбое загрузки")
	}
}

func TestApplySdesOutcome(t *testing.T) {
	repo := newFakeRepo()
	svc := newService(repo, newFakeStore())

	item := seedItem(t, repo, "ref-1", status.StatusForwarded)

	reason := "virus detected"
	updated, err := svc.ApplySdesOutcome(context.Background(), item.SdesCorrelationID, status.StatusFailed, &reason)
	if err != nil {
		t.Fatalf("ApplySdesOutcome() ошибка: %v", err)
	}
	if updated.Status != status.StatusFailed {
		t.Errorf("Status = %q, хотели Failed", updated.Status)
	}
	if updated.FailureReason == nil || *updated.FailureReason != reason {
		t.Errorf("failure_reason = %v, хотели %q", updated.FailureReason, reason)
	}
}

func TestApplySdesOutcomeIllegalTransition(t *testing.T) {
	repo := newFakeRepo()
	svc := newService(repo, newFakeStore())

	// Заявка ещё в Submitted: SDES не может сообщить Processed
	item := seedItem(t, repo, "ref-1", status.StatusSubmitted)

	_, err := svc.ApplySdesOutcome(context.Background(), item.SdesCorrelationID, status.StatusProcessed, nil)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("ApplySdesOutcome() = %v, хотели ErrInvalidTransition", err)
	}

	// Целевой статус вне {Processed, Failed}
	_, err = svc.ApplySdesOutcome(context.Background(), item.SdesCorrelationID, status.StatusCompleted, nil)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("ApplySdesOutcome(Completed) = %v, хотели ErrInvalidTransition", err)
	}
}

func TestApplySdesOutcomeUnknownCorrelation(t *testing.T) {
	repo := newFakeRepo()
	svc := newService(repo, newFakeStore())

	_, err := svc.ApplySdesOutcome(context.Background(), "no-such", status.StatusProcessed, nil)
	if !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("ApplySdesOutcome() = %v, хотели ErrNotFound", err)
	}
}
