package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pv/telemetry-recorder/internal/recorder"
)

// State — состояние сессии.
type State int

const (
	Created State = iota
	Live
	Historical
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Live:
		return "live"
	case Historical:
		return "historical"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrSessionNotLive возвращается при записи в завершённую сессию. Вызывающий считает это отбрасыванием данных.
var ErrSessionNotLive = errors.New("session: session is not live")

// Context ведёт запись одной сессии.
// Карта каналов заполняется целиком при создании и дальше не меняется.
type Context struct {
	key       string
	handle    recorder.Handle
	rec       recorder.Recorder
	channels  map[string]recorder.ChannelID
	sources   map[string]string // имя канала → идентификатор параметра
	createdAt time.Time

	mu      sync.Mutex
	state   State
	endedAt time.Time

	writes atomic.Int64
	laps   atomic.Int64
}

func (c *Context) Key() string             { return c.key }
func (c *Context) Handle() recorder.Handle { return c.handle }

func (c *Context) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Channel возвращает id канала параметра для суффикса. Повторный вызов даёт тот же id.
func (c *Context) Channel(parameter string, v Variant) (recorder.ChannelID, bool) {
	id, ok := c.channels[ChannelName(parameter, v)]
	return id, ok
}

// ChannelByName ищет канал по полному имени.
func (c *Context) ChannelByName(name string) (recorder.ChannelID, bool) {
	id, ok := c.channels[name]
	return id, ok
}

// ChannelParameter возвращает идентификатор параметра, для которого зарегистрирован канал.
// При совпадении имён после отбрасывания группы канал принадлежит первому параметру.
func (c *Context) ChannelParameter(name string) (string, bool) {
	p, ok := c.sources[name]
	return p, ok
}

// Channels возвращает копию карты каналов.
func (c *Context) Channels() map[string]recorder.ChannelID {
	out := make(map[string]recorder.ChannelID, len(c.channels))
	for name, id := range c.channels {
		out[name] = id
	}
	return out
}

// ChannelNames возвращает имена каналов, отсортированные по id.
func (c *Context) ChannelNames() []string {
	names := make([]string, 0, len(c.channels))
	for name := range c.channels {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return c.channels[names[i]] < c.channels[names[j]] })
	return names
}

func (c *Context) WriteSeries(ctx context.Context, id recorder.ChannelID, ts []int64, values []float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Live {
		return ErrSessionNotLive
	}
	if err := c.rec.WriteSeries(ctx, c.handle, id, ts, values); err != nil {
		return err
	}
	c.writes.Add(1)
	return nil
}

func (c *Context) WriteRow(ctx context.Context, ids []recorder.ChannelID, ts int64, values []float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Live {
		return ErrSessionNotLive
	}
	if err := c.rec.WriteRow(ctx, c.handle, ids, ts, values); err != nil {
		return err
	}
	c.writes.Add(1)
	return nil
}

func (c *Context) AddLap(ctx context.Context, lap recorder.Lap) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Live {
		return ErrSessionNotLive
	}
	if err := c.rec.AddLap(ctx, c.handle, lap); err != nil {
		return err
	}
	c.laps.Add(1)
	return nil
}

// end переводит Live в Historical. Берёт тот же мьютекс, что и запись, поэтому начатые записи завершаются раньше.
func (c *Context) end(ctx context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Live {
		return false, nil
	}
	err := c.rec.EndSession(ctx, c.handle)
	c.state = Historical
	c.endedAt = time.Now().UTC()
	if err != nil {
		return true, fmt.Errorf("session: end %s: %w", c.key, err)
	}
	return true, nil
}

// Info описывает сессию для API.
type Info struct {
	Key       string          `json:"key"`
	Handle    recorder.Handle `json:"handle"`
	State     string          `json:"state"`
	Channels  int             `json:"channels"`
	Writes    int64           `json:"writes"`
	Laps      int64           `json:"laps"`
	CreatedAt time.Time       `json:"created_at"`
	EndedAt   *time.Time      `json:"ended_at,omitempty"`
}

func (c *Context) Info() Info {
	c.mu.Lock()
	defer c.mu.Unlock()
	info := Info{
		Key:       c.key,
		Handle:    c.handle,
		State:     c.state.String(),
		Channels:  len(c.channels),
		Writes:    c.writes.Load(),
		Laps:      c.laps.Load(),
		CreatedAt: c.createdAt,
	}
	if !c.endedAt.IsZero() {
		ended := c.endedAt
		info.EndedAt = &ended
	}
	return info
}
