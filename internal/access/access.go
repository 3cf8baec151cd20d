// Package access проверяет права пользователя при выводе фрагментов витрины.
package access

import (
	"slices"
	"strings"
	"sync"
)

// Capability — имя права, например "catalog.edit".
type Capability string

// Normalize приводит имя права к каноническому виду.
func (c Capability) Normalize() Capability {
	return Capability(strings.ToLower(strings.TrimSpace(string(c))))
}

// CapabilitySet — права пользователя текущей сессии. Безопасен для конкурентного чтения.
type CapabilitySet struct {
	mu    sync.RWMutex
	items map[Capability]struct{}
}

// NewCapabilitySet создаёт набор из перечисленных прав.
func NewCapabilitySet(capabilities ...Capability) *CapabilitySet {
	s := &CapabilitySet{items: make(map[Capability]struct{}, len(capabilities))}
	for _, c := range capabilities {
		s.Grant(c)
	}
	return s
}

// Has сообщает, есть ли у пользователя право.
func (s *CapabilitySet) Has(c Capability) bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.items[c.Normalize()]
	return ok
}

// Grant выдаёт право; пустое имя и nil-набор игнорируются.
func (s *CapabilitySet) Grant(c Capability) {
	c = c.Normalize()
	if s == nil || c == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.items == nil {
		s.items = make(map[Capability]struct{})
	}
	s.items[c] = struct{}{}
}

// Revoke отзывает право; false, если его не было.
func (s *CapabilitySet) Revoke(c Capability) bool {
	if s == nil {
		return false
	}
	c = c.Normalize()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[c]; !ok {
		return false
	}
	delete(s.items, c)
	return true
}

// List возвращает права в алфавитном порядке.
func (s *CapabilitySet) List() []Capability {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	out := make([]Capability, 0, len(s.items))
	for c := range s.items {
		out = append(out, c)
	}
	s.mu.RUnlock()
	slices.Sort(out)
	return out
}

// Evaluate решает, показывать ли фрагмент. expect=true означает фрагмент для тех,
// у кого право есть; expect=false означает фрагмент для тех, у кого его нет.
// Без пользователя (set == nil) права нет ни у кого, результат равен !expect.
func Evaluate(set *CapabilitySet, required Capability, expect bool) bool {
	if set == nil {
		return !expect
	}
	return set.Has(required) == expect
}
