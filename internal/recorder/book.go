package recorder

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Channel описывает зарегистрированный канал.
type Channel struct {
	ID       ChannelID
	Name     string
	DataType DataType
}

type bookSession struct {
	info      SessionInfo
	channels  map[ChannelID]Channel
	byName    map[string]ChannelID
	nextID    ChannelID
	committed bool
	ended     bool
}

// ChannelBook ведёт учёт сессий и каналов и проверяет порядок вызовов Recorder.
// Используется всеми реализациями хранилищ.
type ChannelBook struct {
	mu       sync.RWMutex
	sessions map[Handle]*bookSession
}

// NewChannelBook создаёт пустую книгу каналов.
func NewChannelBook() *ChannelBook {
	return &ChannelBook{sessions: map[Handle]*bookSession{}}
}

// Open регистрирует новую сессию и выдаёт ей handle.
func (b *ChannelBook) Open(info SessionInfo) Handle {
	h := Handle(uuid.NewString())
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessions[h] = &bookSession{
		info:     info,
		channels: map[ChannelID]Channel{},
		byName:   map[string]ChannelID{},
		nextID:   1,
	}
	return h
}

// Register добавляет канал. Повторная регистрация того же имени возвращает прежний ID и created=false.
func (b *ChannelBook) Register(h Handle, name string, dt DataType) (id ChannelID, created bool, err error) {
	if name == "" {
		return 0, false, ErrEmptyName
	}
	if dt != DataTypeFloat64 {
		return 0, false, fmt.Errorf("%w: %d", ErrUnsupportedType, dt)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sessions[h]
	if !ok {
		return 0, false, fmt.Errorf("%w: %s", ErrUnknownSession, h)
	}
	if existing, ok := s.byName[name]; ok {
		return existing, false, nil
	}
	if s.committed {
		return 0, false, ErrCommitted
	}
	id = s.nextID
	s.nextID++
	s.channels[id] = Channel{ID: id, Name: name, DataType: dt}
	s.byName[name] = id
	return id, true, nil
}

// Commit фиксирует конфигурацию каналов.
func (b *ChannelBook) Commit(h Handle) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sessions[h]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSession, h)
	}
	if s.committed {
		return ErrCommitted
	}
	s.committed = true
	return nil
}

func (b *ChannelBook) writable(h Handle) (*bookSession, error) {
	s, ok := b.sessions[h]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, h)
	}
	if !s.committed {
		return nil, ErrNotCommitted
	}
	if s.ended {
		return nil, ErrSessionEnded
	}
	return s, nil
}

// CheckRow проверяет запись строки и возвращает имена каналов в порядке ids.
func (b *ChannelBook) CheckRow(h Handle, ids []ChannelID, values int) ([]string, error) {
	if len(ids) != values {
		return nil, ErrLengthMismatch
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, err := b.writable(h)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(ids))
	for i, id := range ids {
		ch, ok := s.channels[id]
		if !ok {
			return nil, fmt.Errorf("%w: %d", ErrUnknownChannel, id)
		}
		names[i] = ch.Name
	}
	return names, nil
}

// CheckSeries проверяет запись ряда и возвращает имя канала.
func (b *ChannelBook) CheckSeries(h Handle, id ChannelID, timestamps, values int) (string, error) {
	if timestamps != values {
		return "", ErrLengthMismatch
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, err := b.writable(h)
	if err != nil {
		return "", err
	}
	ch, ok := s.channels[id]
	if !ok {
		return "", fmt.Errorf("%w: %d", ErrUnknownChannel, id)
	}
	return ch.Name, nil
}

// CheckWritable проверяет, что в сессию можно писать (для маркеров).
func (b *ChannelBook) CheckWritable(h Handle) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, err := b.writable(h)
	return err
}

// End помечает сессию завершённой. Повторный вызов возвращает alreadyEnded=true.
func (b *ChannelBook) End(h Handle) (alreadyEnded bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sessions[h]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownSession, h)
	}
	if s.ended {
		return true, nil
	}
	s.ended = true
	return false, nil
}

// Close удаляет сессию из книги.
func (b *ChannelBook) Close(h Handle) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.sessions[h]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSession, h)
	}
	delete(b.sessions, h)
	return nil
}

// Info возвращает описание сессии.
func (b *ChannelBook) Info(h Handle) (SessionInfo, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.sessions[h]
	if !ok {
		return SessionInfo{}, false
	}
	return s.info, true
}

// Channels возвращает каналы сессии, отсортированные по ID.
func (b *ChannelBook) Channels(h Handle) []Channel {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.sessions[h]
	if !ok {
		return nil
	}
	out := make([]Channel, 0, len(s.channels))
	for _, ch := range s.channels {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Handles возвращает все открытые сессии.
func (b *ChannelBook) Handles() []Handle {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Handle, 0, len(b.sessions))
	for h := range b.sessions {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
