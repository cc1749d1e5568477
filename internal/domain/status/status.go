// Пакет status — статусы заявки (submission) и граф допустимых переходов.
//
// Жизненный цикл заявки:
//
//	Submitted → Forwarded → {Processed, Failed} → Completed
//	{Processed, Failed} → CallbackFailed
//
// Переходы образуют DAG: возврат в более ранний статус невозможен.
// Completed и CallbackFailed — терминальные статусы, хранятся для аудита.
package status

// Status — статус заявки в хранилище.
type Status string

const (
	// StatusSubmitted — заявка принята, объект загружен, SDES ещё не уведомлён.
	StatusSubmitted Status = "Submitted"
	// StatusForwarded — SDES уведомлён, ожидается результат обработки.
	StatusForwarded Status = "Forwarded"
	// StatusProcessed — SDES обработал файл успешно, ожидается callback клиенту.
	StatusProcessed Status = "Processed"
	// StatusFailed — SDES отклонил файл, ожидается callback клиенту.
	StatusFailed Status = "Failed"
	// StatusCompleted — клиент уведомлён, терминальный статус.
	StatusCompleted Status = "Completed"
	// StatusCallbackFailed — callback не доставлен после максимума попыток,
	// терминальный статус; разбирается оператором.
	StatusCallbackFailed Status = "CallbackFailed"
)

// validTransitions — матрица допустимых переходов.
// Ключ — текущий статус, значение — набор допустимых целевых статусов.
var validTransitions = map[Status]map[Status]bool{
	StatusSubmitted: {StatusForwarded: true},
	StatusForwarded: {StatusProcessed: true, StatusFailed: true},
	StatusProcessed: {StatusCompleted: true, StatusCallbackFailed: true},
	StatusFailed:    {StatusCompleted: true, StatusCallbackFailed: true},
	// Терминальные статусы — переходы запрещены
	StatusCompleted:      {},
	StatusCallbackFailed: {},
}

// IsValid проверяет, что значение является известным статусом.
func IsValid(s Status) bool {
	_, ok := validTransitions[s]
	return ok
}

// CanTransition проверяет, допустим ли переход from → to.
// Для неизвестных статусов возвращает false.
func CanTransition(from, to Status) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// IsTerminal возвращает true для терминальных статусов
// (Completed, CallbackFailed) — из них переходы невозможны.
func IsTerminal(s Status) bool {
	targets, ok := validTransitions[s]
	return ok && len(targets) == 0
}
