// Package session сопоставляет ключ сессии с живым контекстом записи:
// создаёт сессию в хранилище, регистрирует каналы и завершает её.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/pv/telemetry-recorder/internal/logging"
	"github.com/pv/telemetry-recorder/internal/recorder"
	"github.com/pv/telemetry-recorder/pkg/config"
)

// ErrConfiguration оборачивает ошибки регистрации каналов при создании сессии.
var ErrConfiguration = errors.New("session: configuration error")

type Config struct {
	Parameters []string  // подписанные параметры
	Variants   []Variant // суффиксы каналов; пусто = только Buffered
	Recorder   recorder.Recorder
	Logger     *zerolog.Logger
}

type Registry struct {
	parameters []string
	variants   []Variant
	rec        recorder.Recorder
	log        zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*Context
	creating singleflight.Group

	obsMu     sync.RWMutex
	observers map[ObserverID]Observer
	nextObsID ObserverID
}

func New(cfg Config) (*Registry, error) {
	if cfg.Recorder == nil {
		return nil, fmt.Errorf("session: recorder is nil")
	}
	for _, p := range cfg.Parameters {
		if _, _, err := config.SplitIdentifier(p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
		}
	}
	variants := cfg.Variants
	if len(variants) == 0 {
		variants = []Variant{Buffered}
	}
	return &Registry{
		parameters: append([]string(nil), cfg.Parameters...),
		variants:   append([]Variant(nil), variants...),
		rec:        cfg.Recorder,
		log:        logging.Component(logging.OrNop(cfg.Logger), "session"),
		sessions:   map[string]*Context{},
		observers:  map[ObserverID]Observer{},
	}, nil
}

// Variants возвращает суффиксы, регистрируемые для каждого параметра.
func (r *Registry) Variants() []Variant {
	return append([]Variant(nil), r.variants...)
}

// Get ищет сессию без создания.
func (r *Registry) Get(key string) (*Context, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.sessions[key]
	return c, ok
}

// ResolveOrCreate возвращает сессию, создавая её при первом обращении.
// Параллельные вызовы для одного ключа выполняют создание один раз.
func (r *Registry) ResolveOrCreate(ctx context.Context, key string) (*Context, error) {
	if key == "" {
		return nil, fmt.Errorf("session: session key is empty")
	}
	if c, ok := r.Get(key); ok {
		return c, nil
	}
	v, err, _ := r.creating.Do(key, func() (any, error) {
		if c, ok := r.Get(key); ok {
			return c, nil
		}
		c, err := r.create(ctx, key)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.sessions[key] = c
		r.mu.Unlock()
		// наблюдатели уже видят сессию через Get и Sessions
		r.notify(Event{Type: Started, Key: key, Handle: c.handle})
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Context), nil
}

func (r *Registry) create(ctx context.Context, key string) (*Context, error) {
	now := time.Now().UTC()
	h, err := r.rec.CreateSession(ctx, recorder.SessionInfo{Key: key, Identifier: key, CreatedAt: now})
	if err != nil {
		r.log.Error().Err(err).Str("session", key).Msg("create recorder session failed")
		return nil, fmt.Errorf("%w: create session %s: %w", ErrConfiguration, key, err)
	}

	channels, sources, err := r.registerChannels(ctx, h)
	if err == nil {
		err = r.rec.CommitConfiguration(ctx, h)
	}
	if err != nil {
		if cerr := r.rec.CloseSession(ctx, h); cerr != nil {
			r.log.Warn().Err(cerr).Str("session", key).Msg("close failed session")
		}
		r.log.Error().Err(err).Str("session", key).Msg("session configuration failed")
		return nil, fmt.Errorf("%w: session %s: %w", ErrConfiguration, key, err)
	}

	c := &Context{
		key:       key,
		handle:    h,
		rec:       r.rec,
		channels:  channels,
		sources:   sources,
		createdAt: now,
		state:     Live,
	}
	r.log.Info().Str("session", key).Str("handle", string(h)).Int("channels", len(channels)).Msg("session started")
	return c, nil
}

func (r *Registry) registerChannels(ctx context.Context, h recorder.Handle) (map[string]recorder.ChannelID, map[string]string, error) {
	channels := make(map[string]recorder.ChannelID, len(r.parameters)*len(r.variants))
	sources := make(map[string]string, len(channels))
	for _, p := range r.parameters {
		for _, v := range r.variants {
			name := ChannelName(p, v)
			if _, ok := channels[name]; ok {
				continue
			}
			id, err := r.rec.RegisterChannel(ctx, h, name, recorder.DataTypeFloat64)
			if err != nil {
				return nil, nil, fmt.Errorf("register channel %s: %w", name, err)
			}
			channels[name] = id
			sources[name] = p
		}
	}
	return channels, sources, nil
}

// End завершает живую сессию. Для неизвестной или уже завершённой сессии ничего не делает.
func (r *Registry) End(ctx context.Context, key string) error {
	c, ok := r.Get(key)
	if !ok {
		r.log.Debug().Str("session", key).Msg("end for unknown session ignored")
		return nil
	}
	ended, err := c.end(ctx)
	if ended {
		r.log.Info().Str("session", key).Int64("writes", c.writes.Load()).Msg("session ended")
		r.notify(Event{Type: Ended, Key: key, Handle: c.handle})
	}
	return err
}

// StopAll завершает все живые сессии и освобождает их хранилище. Вызывается при остановке процесса.
func (r *Registry) StopAll(ctx context.Context) error {
	r.mu.Lock()
	all := make([]*Context, 0, len(r.sessions))
	for _, c := range r.sessions {
		all = append(all, c)
	}
	r.sessions = map[string]*Context{}
	r.mu.Unlock()

	var errs []error
	for _, c := range all {
		ended, err := c.end(ctx)
		if err != nil {
			errs = append(errs, err)
		}
		if ended {
			r.notify(Event{Type: Ended, Key: c.key, Handle: c.handle})
		}
	}
	for _, c := range all {
		if err := r.rec.CloseSession(ctx, c.handle); err != nil {
			errs = append(errs, fmt.Errorf("session: close %s: %w", c.key, err))
			continue
		}
		r.notify(Event{Type: Closed, Key: c.key, Handle: c.handle})
	}
	r.log.Info().Int("sessions", len(all)).Msg("all sessions stopped")
	return errors.Join(errs...)
}

// Sessions возвращает снимок всех сессий, отсортированный по времени создания.
func (r *Registry) Sessions() []Info {
	r.mu.Lock()
	all := make([]*Context, 0, len(r.sessions))
	for _, c := range r.sessions {
		all = append(all, c)
	}
	r.mu.Unlock()

	out := make([]Info, 0, len(all))
	for _, c := range all {
		out = append(out, c.Info())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Key < out[j].Key
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
