package session

import (
	"github.com/pv/telemetry-recorder/internal/recorder"
)

// EventType — тип события жизненного цикла сессии.
type EventType int

const (
	Started EventType = iota
	Ended
	Closed
)

func (t EventType) String() string {
	switch t {
	case Started:
		return "started"
	case Ended:
		return "ended"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

type Event struct {
	Type   EventType
	Key    string
	Handle recorder.Handle
}

// Observer получает события жизненного цикла. Порядок вызова наблюдателей не определён.
type Observer interface {
	SessionEvent(Event)
}

// ObserverFunc позволяет использовать функцию как Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) SessionEvent(e Event) { f(e) }

type ObserverID uint64

func (r *Registry) AddObserver(o Observer) ObserverID {
	r.obsMu.Lock()
	defer r.obsMu.Unlock()
	r.nextObsID++
	r.observers[r.nextObsID] = o
	return r.nextObsID
}

func (r *Registry) RemoveObserver(id ObserverID) {
	r.obsMu.Lock()
	defer r.obsMu.Unlock()
	delete(r.observers, id)
}

func (r *Registry) notify(e Event) {
	r.obsMu.RLock()
	list := make([]Observer, 0, len(r.observers))
	for _, o := range r.observers {
		list = append(list, o)
	}
	r.obsMu.RUnlock()
	for _, o := range list {
		o.SessionEvent(e)
	}
}
