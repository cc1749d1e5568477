// Пакет model — доменные модели сервиса dms-submission.
package model

import (
	"time"

	"github.com/burns238/dms-submission/internal/domain/status"
)

// ObjectSummary — сводка по объекту, загруженному в object store.
type ObjectSummary struct {
	// Location — путь объекта в хранилище (bucket/key)
	Location string `json:"location"`
	// ContentLength — размер объекта в байтах
	ContentLength int64 `json:"contentLength"`
	// ContentMd5 — MD5-контрольная сумма в base64
	ContentMd5 string `json:"contentMd5"`
	// LastModified — время записи объекта
	LastModified time.Time `json:"lastModified"`
}

// SubmissionMetadata — маршрутная метаинформация заявки.
// Сериализуется в metadata.xml внутри zip-архива для SDES.
type SubmissionMetadata struct {
	Store              bool
	Source             string
	TimeOfReceipt      time.Time
	FormID             string
	CustomerID         string
	SubmissionMark     string
	CasKey             string
	ClassificationType string
	BusinessArea       string
}

// SubmissionItem — заявка на пересылку документа. Единственная
// персистентная сущность сервиса.
type SubmissionItem struct {
	// ID — идентификатор заявки (submission reference), уникален в паре с Owner
	ID string
	// Owner — имя аутентифицированного сервиса-отправителя
	Owner string
	// SdesCorrelationID — глобально уникальный идентификатор,
	// используется как имя объекта в хранилище и как ключ для
	// обновлений статуса со стороны SDES
	SdesCorrelationID string
	// CallbackURL — адрес уведомления клиента о терминальном статусе
	CallbackURL string
	// Status — текущий статус жизненного цикла
	Status status.Status
	// ObjectSummary — сводка по загруженному zip-архиву
	ObjectSummary ObjectSummary
	// FailureReason — диагностика отказа (опционально)
	FailureReason *string
	// FailureCount — количество неудачных попыток callback
	FailureCount int
	// LockedAt — время захвата lease воркером; nil — заявка свободна
	LockedAt *time.Time
	// Created — время создания заявки
	Created time.Time
	// LastUpdated — время последней мутации; проставляется репозиторием
	LastUpdated time.Time
}
