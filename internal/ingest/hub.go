package ingest

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// Handler получает пакеты от Hub.
type Handler interface {
	HandleBatch(ctx context.Context, b Batch) error
}

// HandlerFunc позволяет использовать функцию как Handler.
type HandlerFunc func(ctx context.Context, b Batch) error

func (f HandlerFunc) HandleBatch(ctx context.Context, b Batch) error { return f(ctx, b) }

type HandlerID uint64

// Hub рассылает пакеты зарегистрированным обработчикам.
// Обработчики можно добавлять и удалять во время работы; порядок вызова не гарантируется.
type Hub struct {
	mu       sync.RWMutex
	handlers map[HandlerID]Handler
	nextID   HandlerID
}

func NewHub() *Hub {
	return &Hub{handlers: map[HandlerID]Handler{}}
}

func (h *Hub) AddHandler(handler Handler) HandlerID {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	h.handlers[h.nextID] = handler
	return h.nextID
}

func (h *Hub) RemoveHandler(id HandlerID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.handlers[id]; !ok {
		return false
	}
	delete(h.handlers, id)
	return true
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.handlers)
}

// Dispatch передаёт пакет всем обработчикам. Ошибки обработчиков объединяются.
func (h *Hub) Dispatch(ctx context.Context, b Batch) error {
	h.mu.RLock()
	ids := make([]HandlerID, 0, len(h.handlers))
	for id := range h.handlers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	list := make([]Handler, len(ids))
	for i, id := range ids {
		list[i] = h.handlers[id]
	}
	h.mu.RUnlock()

	var errs []error
	for _, handler := range list {
		if err := handler.HandleBatch(ctx, b); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
