// Пакет service — бизнес-логика сервиса dms-submission.
package service

import "errors"

// Ошибки сервисного слоя.
var (
	// ErrInvalidTransition — запрошенный переход статуса нарушает жизненный цикл.
	ErrInvalidTransition = errors.New("недопустимый переход статуса")
	// ErrTransient — временная ошибка внешней зависимости (object store, сеть).
	ErrTransient = errors.New("временная ошибка внешней зависимости")
)
