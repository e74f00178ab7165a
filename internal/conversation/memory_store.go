package conversation

import (
	"context"
	"sync"
	"time"
)

type dialogData struct {
	turns       []Turn
	lastTouched time.Time
}

// MemoryStore потокобезопасное in-memory хранилище диалогов с поддержкой TTL.
// История живёт только в памяти процесса.
type MemoryStore struct {
	mu      sync.Mutex
	dialogs map[string]*dialogData
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryStore создаёт хранилище. Если ttl == 0, диалоги никогда не истекают.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		dialogs: make(map[string]*dialogData),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get возвращает копию истории.
// Ленивая очистка: если диалог истёк, он удаляется и возвращается false.
func (s *MemoryStore) Get(_ context.Context, dialogID string) ([]Turn, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.dialogs[dialogID]
	if !ok {
		return nil, false, nil
	}
	if s.expired(data, s.now()) {
		delete(s.dialogs, dialogID)
		return nil, false, nil
	}

	turns := make([]Turn, len(data.turns))
	copy(turns, data.turns)
	return turns, true, nil
}

func (s *MemoryStore) Append(_ context.Context, dialogID string, turns ...Turn) error {
	if len(turns) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	data, ok := s.dialogs[dialogID]
	if !ok || s.expired(data, now) {
		data = &dialogData{}
		s.dialogs[dialogID] = data
	}

	for _, t := range turns {
		if t.At.IsZero() {
			t.At = now
		}
		data.turns = append(data.turns, t)
	}
	data.lastTouched = now
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, dialogID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.dialogs, dialogID)
	return nil
}

func (s *MemoryStore) ClearExpired(_ context.Context, now time.Time) (int, error) {
	if s.ttl == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int
	for dialogID, data := range s.dialogs {
		if s.expired(data, now) {
			delete(s.dialogs, dialogID)
			deleted++
		}
	}
	return deleted, nil
}

// Len возвращает число живых диалогов.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.dialogs)
}

func (s *MemoryStore) expired(data *dialogData, now time.Time) bool {
	return s.ttl > 0 && now.Sub(data.lastTouched) > s.ttl
}
