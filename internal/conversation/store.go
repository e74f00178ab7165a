// Package conversation хранит историю вопросов и ответов и собирает из неё промпт.
package conversation

import (
	"context"
	"time"
)

// Turn — один ход диалога. Пустая строка означает, что поля нет:
// вопрос и ответ сохраняются отдельными ходами.
type Turn struct {
	Question string    `json:"question,omitempty"`
	Answer   string    `json:"answer,omitempty"`
	At       time.Time `json:"at"`
}

// Store интерфейс для хранения истории диалогов.
type Store interface {
	// Get возвращает историю диалога в порядке добавления.
	// Второй параметр bool указывает, найден ли диалог.
	Get(ctx context.Context, dialogID string) ([]Turn, bool, error)

	// Append добавляет ходы в конец диалога. Если диалога не существует, он будет создан.
	Append(ctx context.Context, dialogID string, turns ...Turn) error

	// Delete удаляет диалог и всю его историю.
	Delete(ctx context.Context, dialogID string) error

	// ClearExpired удаляет диалоги, у которых истёк TTL.
	// Возвращает количество удалённых диалогов.
	ClearExpired(ctx context.Context, now time.Time) (int, error)
}
