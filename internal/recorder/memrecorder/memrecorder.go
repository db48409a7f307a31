// Package memrecorder хранит записанные сессии в памяти процесса.
// Используется для тестов и пробных запусков без базы данных.
package memrecorder

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/pv/telemetry-recorder/internal/recorder"
)

// Point хранит записанное значение канала.
type Point struct {
	Timestamp int64
	Value     float64
}

// Snapshot — копия состояния одной сессии для проверок.
type Snapshot struct {
	Handle       recorder.Handle
	Info         recorder.SessionInfo
	Channels     map[string]recorder.ChannelID
	Samples      map[string][]Point // по имени канала
	Laps         []recorder.Lap
	RowWrites    int
	SeriesWrites int
	Committed    bool
	Ended        bool
	Closed       bool
}

// Writes возвращает общее число вызовов записи данных.
func (s Snapshot) Writes() int {
	return s.RowWrites + s.SeriesWrites
}

type sessionData struct {
	order        int
	info         recorder.SessionInfo
	names        map[recorder.ChannelID]string
	samples      map[recorder.ChannelID][]Point
	laps         []recorder.Lap
	rowWrites    int
	seriesWrites int
	committed    bool
	ended        bool
	closed       bool
}

// Store — потокобезопасное хранилище в памяти.
type Store struct {
	// FailRegister, если задан, вызывается перед регистрацией канала; ошибка возвращается вызывающему.
	FailRegister func(name string) error

	book *recorder.ChannelBook
	mu   sync.Mutex
	data map[recorder.Handle]*sessionData
}

var _ recorder.Recorder = (*Store)(nil)

func New() *Store {
	return &Store{
		book: recorder.NewChannelBook(),
		data: map[recorder.Handle]*sessionData{},
	}
}

func (s *Store) CreateSession(ctx context.Context, info recorder.SessionInfo) (recorder.Handle, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	h := s.book.Open(info)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[h] = &sessionData{
		order:   len(s.data),
		info:    info,
		names:   map[recorder.ChannelID]string{},
		samples: map[recorder.ChannelID][]Point{},
	}
	return h, nil
}

func (s *Store) RegisterChannel(_ context.Context, h recorder.Handle, name string, dt recorder.DataType) (recorder.ChannelID, error) {
	if s.FailRegister != nil {
		if err := s.FailRegister(name); err != nil {
			return 0, err
		}
	}
	id, _, err := s.book.Register(h, name, dt)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if d := s.data[h]; d != nil {
		d.names[id] = name
	}
	return id, nil
}

func (s *Store) CommitConfiguration(_ context.Context, h recorder.Handle) error {
	if err := s.book.Commit(h); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[h].committed = true
	return nil
}

func (s *Store) WriteRow(_ context.Context, h recorder.Handle, ids []recorder.ChannelID, ts int64, values []float64) error {
	if _, err := s.book.CheckRow(h, ids, len(values)); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.data[h]
	for i, id := range ids {
		d.samples[id] = append(d.samples[id], Point{Timestamp: ts, Value: values[i]})
	}
	d.rowWrites++
	return nil
}

func (s *Store) WriteSeries(_ context.Context, h recorder.Handle, id recorder.ChannelID, ts []int64, values []float64) error {
	if _, err := s.book.CheckSeries(h, id, len(ts), len(values)); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.data[h]
	for i := range ts {
		d.samples[id] = append(d.samples[id], Point{Timestamp: ts[i], Value: values[i]})
	}
	d.seriesWrites++
	return nil
}

func (s *Store) AddLap(_ context.Context, h recorder.Handle, lap recorder.Lap) error {
	if err := s.book.CheckWritable(h); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.data[h]
	d.laps = append(d.laps, lap)
	return nil
}

func (s *Store) EndSession(_ context.Context, h recorder.Handle) error {
	if _, err := s.book.End(h); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[h].ended = true
	return nil
}

func (s *Store) CloseSession(_ context.Context, h recorder.Handle) error {
	if err := s.book.Close(h); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[h].closed = true
	return nil
}

func (s *Store) Close() error {
	return nil
}

// Session возвращает копию состояния сессии.
func (s *Store) Session(h recorder.Handle) (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.data[h]
	if !ok {
		return Snapshot{}, false
	}
	return d.snapshot(h), true
}

// SessionByKey ищет последнюю созданную сессию с указанным ключом.
func (s *Store) SessionByKey(key string) (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var (
		found  *sessionData
		handle recorder.Handle
	)
	for h, d := range s.data {
		if d.info.Key != key {
			continue
		}
		if found == nil || d.order > found.order {
			found, handle = d, h
		}
	}
	if found == nil {
		return Snapshot{}, false
	}
	return found.snapshot(handle), true
}

// Sessions возвращает все сессии в порядке создания.
func (s *Store) Sessions() []Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Snapshot, 0, len(s.data))
	for h, d := range s.data {
		out = append(out, d.snapshot(h))
	}
	sort.Slice(out, func(i, j int) bool {
		return s.data[out[i].Handle].order < s.data[out[j].Handle].order
	})
	return out
}

// TotalWrites возвращает общее число вызовов записи по всем сессиям.
func (s *Store) TotalWrites() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, d := range s.data {
		total += d.rowWrites + d.seriesWrites
	}
	return total
}

func (d *sessionData) snapshot(h recorder.Handle) Snapshot {
	snap := Snapshot{
		Handle:       h,
		Info:         d.info,
		Channels:     make(map[string]recorder.ChannelID, len(d.names)),
		Samples:      make(map[string][]Point, len(d.samples)),
		Laps:         append([]recorder.Lap(nil), d.laps...),
		RowWrites:    d.rowWrites,
		SeriesWrites: d.seriesWrites,
		Committed:    d.committed,
		Ended:        d.ended,
		Closed:       d.closed,
	}
	for id, name := range d.names {
		snap.Channels[name] = id
	}
	for id, points := range d.samples {
		name, ok := d.names[id]
		if !ok {
			name = fmt.Sprintf("#%d", id)
		}
		snap.Samples[name] = append([]Point(nil), points...)
	}
	return snap
}
