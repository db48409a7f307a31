package config

import (
	"fmt"
	"sort"
)

// ParameterRegistry хранит подписанные параметры с ключом по cityhash идентификатора.
// Поиск по идентификатору хэширует его и сверяет строку, поэтому коллизия не даёт ложного совпадения.
// После построения используется только на чтение, поэтому безопасен для конкурентного доступа.
type ParameterRegistry struct {
	params map[int64]*ParameterKey // hash → parameter
}

// NewParameterRegistry создаёт пустой реестр параметров.
func NewParameterRegistry() *ParameterRegistry {
	return &ParameterRegistry{params: make(map[int64]*ParameterKey)}
}

// Add добавляет параметр в реестр. Возвращает ошибку при коллизии hash.
func (r *ParameterRegistry) Add(key *ParameterKey) error {
	if existing, exists := r.params[key.Hash]; exists {
		if existing.Identifier != key.Identifier {
			return fmt.Errorf("hash collision: %q and %q have same hash %d",
				existing.Identifier, key.Identifier, key.Hash)
		}
		// Дубликат того же параметра - игнорируем
		return nil
	}
	r.params[key.Hash] = key
	return nil
}

// ByHash возвращает параметр по его hash.
func (r *ParameterRegistry) ByHash(hash int64) (*ParameterKey, bool) {
	if r == nil {
		return nil, false
	}
	key, ok := r.params[hash]
	return key, ok
}

// ByIdentifier возвращает параметр по идентификатору.
func (r *ParameterRegistry) ByIdentifier(identifier string) (*ParameterKey, bool) {
	if r == nil {
		return nil, false
	}
	key, ok := r.params[HashForIdentifier(identifier)]
	if !ok || key.Identifier != identifier {
		return nil, false
	}
	return key, true
}

// Contains сообщает, подписан ли параметр.
func (r *ParameterRegistry) Contains(identifier string) bool {
	_, ok := r.ByIdentifier(identifier)
	return ok
}

// Identifiers возвращает отсортированный список идентификаторов.
func (r *ParameterRegistry) Identifiers() []string {
	if r == nil {
		return nil
	}
	ids := make([]string, 0, len(r.params))
	for _, key := range r.params {
		ids = append(ids, key.Identifier)
	}
	sort.Strings(ids)
	return ids
}

// Count возвращает количество параметров в реестре.
func (r *ParameterRegistry) Count() int {
	if r == nil {
		return 0
	}
	return len(r.params)
}
