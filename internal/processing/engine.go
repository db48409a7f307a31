package processing

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pv/telemetry-recorder/internal/logging"
	"github.com/pv/telemetry-recorder/internal/sample"
)

var (
	ErrInvalidSubscription   = errors.New("processing: invalid subscription")
	ErrDuplicateSubscription = errors.New("processing: subscription already exists")
)

// Subscription связывает набор параметров, частоту обработки, процессор и обработчик результатов.
type Subscription struct {
	Key          string
	Parameters   []string
	ProcessingHz float64
	DeliveryHz   float64 // 0 = как ProcessingHz
	Handler      ResultHandler
	// NewProcessor создаёт процессор для каждой сессии подписки. nil = Aggregator.
	NewProcessor func() Processor
}

// SubscriptionInfo описывает подписку для API.
type SubscriptionInfo struct {
	Key          string   `json:"key"`
	Parameters   []string `json:"parameters"`
	ProcessingHz float64  `json:"processing_hz"`
	DeliveryHz   float64  `json:"delivery_hz"`
	Sessions     int      `json:"sessions"`
	Delivered    int64    `json:"delivered"`
}

// Engine нарезает поток точек на окна данных по времени и вызывает процессоры подписок.
// Окна обработки ведутся отдельно для каждого параметра, окна доставки общие для сессии.
// Вызовы Process одной подписки не выполняются параллельно.
type Engine struct {
	log zerolog.Logger

	mu   sync.RWMutex
	subs map[string]*subscription

	// ended хранит завершённые сессии: точки для них больше не принимаются.
	endMu sync.RWMutex
	ended map[string]struct{}
}

func NewEngine(logger *zerolog.Logger) *Engine {
	return &Engine{
		log:   logging.Component(logging.OrNop(logger), "processing"),
		subs:  map[string]*subscription{},
		ended: map[string]struct{}{},
	}
}

type subscription struct {
	Subscription
	period   int64
	delivery int64
	params   map[string]bool
	ordered  []string

	mu        sync.Mutex
	sessions  map[string]*sessionState
	delivered int64
}

// sessionState хранит состояние подписки для одной сессии.
type sessionState struct {
	processor Processor
	params    map[string]*paramWindow
	// pending группирует результаты по началу окна доставки.
	pending map[int64][]ProcessResult
}

// paramWindow хранит открытое окно обработки одного параметра.
type paramWindow struct {
	started bool
	start   int64
	buffer  []sample.DataPoint
}

func (e *Engine) Subscribe(sub Subscription) error {
	if sub.Key == "" {
		return fmt.Errorf("%w: key is empty", ErrInvalidSubscription)
	}
	if len(sub.Parameters) == 0 {
		return fmt.Errorf("%w: %s: no parameters", ErrInvalidSubscription, sub.Key)
	}
	if sub.ProcessingHz <= 0 {
		return fmt.Errorf("%w: %s: processing frequency must be > 0", ErrInvalidSubscription, sub.Key)
	}
	if sub.DeliveryHz < 0 {
		return fmt.Errorf("%w: %s: delivery frequency must be >= 0", ErrInvalidSubscription, sub.Key)
	}
	if sub.Handler == nil {
		return fmt.Errorf("%w: %s: result handler is nil", ErrInvalidSubscription, sub.Key)
	}
	if sub.DeliveryHz == 0 {
		sub.DeliveryHz = sub.ProcessingHz
	}
	if sub.NewProcessor == nil {
		sub.NewProcessor = func() Processor { return NewAggregator() }
	}

	s := &subscription{
		Subscription: sub,
		period:       int64(hzToPeriod(sub.ProcessingHz)),
		delivery:     int64(hzToPeriod(sub.DeliveryHz)),
		params:       make(map[string]bool, len(sub.Parameters)),
		sessions:     map[string]*sessionState{},
	}
	for _, p := range sub.Parameters {
		if !s.params[p] {
			s.params[p] = true
			s.ordered = append(s.ordered, p)
		}
	}
	s.Parameters = append([]string(nil), s.ordered...)

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.subs[sub.Key]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateSubscription, sub.Key)
	}
	e.subs[sub.Key] = s
	e.log.Info().Str("subscription", sub.Key).Int("parameters", len(s.ordered)).
		Float64("processing_hz", sub.ProcessingHz).Float64("delivery_hz", sub.DeliveryHz).Msg("subscribed")
	return nil
}

// Unsubscribe удаляет подписку. Недоставленные результаты отбрасываются.
func (e *Engine) Unsubscribe(key string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.subs[key]; !ok {
		return false
	}
	delete(e.subs, key)
	e.log.Info().Str("subscription", key).Msg("unsubscribed")
	return true
}

func (e *Engine) snapshot() []*subscription {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*subscription, 0, len(e.subs))
	for _, s := range e.subs {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Push добавляет точки сессии во все подписки, которым они интересны.
// Точки завершённой сессии отбрасываются.
func (e *Engine) Push(ctx context.Context, sessionKey string, points []sample.DataPoint) {
	if len(points) == 0 {
		return
	}
	// EndSession ждёт завершения идущих Push и только потом сбрасывает состояние
	e.endMu.RLock()
	defer e.endMu.RUnlock()
	if _, ok := e.ended[sessionKey]; ok {
		return
	}
	sorted := sortedPoints(points)
	for _, s := range e.snapshot() {
		s.push(ctx, sessionKey, sorted)
	}
}

// EndSession закрывает незавершённые окна сессии, доставляет результаты и освобождает состояние процессоров.
// Сессия запоминается как завершённая, последующие Push для неё игнорируются.
func (e *Engine) EndSession(ctx context.Context, sessionKey string) {
	e.endMu.Lock()
	e.ended[sessionKey] = struct{}{}
	e.endMu.Unlock()

	for _, s := range e.snapshot() {
		s.end(ctx, sessionKey)
	}
}

func (e *Engine) Subscriptions() []SubscriptionInfo {
	subs := e.snapshot()
	out := make([]SubscriptionInfo, 0, len(subs))
	for _, s := range subs {
		s.mu.Lock()
		out = append(out, SubscriptionInfo{
			Key:          s.Key,
			Parameters:   append([]string(nil), s.ordered...),
			ProcessingHz: s.ProcessingHz,
			DeliveryHz:   s.DeliveryHz,
			Sessions:     len(s.sessions),
			Delivered:    s.delivered,
		})
		s.mu.Unlock()
	}
	return out
}

func (s *subscription) push(ctx context.Context, sessionKey string, points []sample.DataPoint) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st *sessionState
	for _, p := range points {
		if !s.params[p.Parameter] {
			continue
		}
		if st == nil {
			st = s.session(sessionKey)
		}
		pw := st.param(p.Parameter)
		if !pw.started {
			pw.started = true
			pw.start = alignDown(p.Timestamp, s.period)
		}
		for p.Timestamp >= pw.start+s.period {
			if len(pw.buffer) == 0 {
				pw.start = alignDown(p.Timestamp, s.period)
				break
			}
			s.closeWindow(ctx, sessionKey, st, p.Parameter, pw)
		}
		// опоздавшая точка из уже закрытого окна попадает в текущее
		pw.buffer = append(pw.buffer, p)
	}
}

func (s *subscription) session(sessionKey string) *sessionState {
	st, ok := s.sessions[sessionKey]
	if !ok {
		st = &sessionState{
			processor: s.NewProcessor(),
			params:    map[string]*paramWindow{},
			pending:   map[int64][]ProcessResult{},
		}
		s.sessions[sessionKey] = st
	}
	return st
}

func (st *sessionState) param(name string) *paramWindow {
	pw, ok := st.params[name]
	if !ok {
		pw = &paramWindow{}
		st.params[name] = pw
	}
	return pw
}

// closeWindow обрабатывает окно [start, start+period) параметра и доставляет
// окна доставки, которые закончились не позже него.
func (s *subscription) closeWindow(ctx context.Context, sessionKey string, st *sessionState, param string, pw *paramWindow) {
	start, end := pw.start, pw.start+s.period
	res := st.processor.Process(ProcessContext{Parameter: param, Start: start, End: end, Points: pw.buffer})
	d := alignDown(start, s.delivery)
	st.pending[d] = append(st.pending[d], res)
	pw.buffer = nil
	pw.start = end

	for _, ready := range st.pendingWindows() {
		if ready+s.delivery > end {
			break
		}
		s.deliver(ctx, sessionKey, st, ready)
	}
}

func (st *sessionState) pendingWindows() []int64 {
	out := make([]int64, 0, len(st.pending))
	for d := range st.pending {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// deliver отдаёт обработчику результаты окна доставки [d, d+delivery).
// Параметр, пришедший позже, доставляется отдельным пакетом за то же окно.
func (s *subscription) deliver(ctx context.Context, sessionKey string, st *sessionState, d int64) {
	results := st.pending[d]
	delete(st.pending, d)
	if len(results) == 0 {
		return
	}
	s.Handler.HandleResult(ctx, BatchResult{
		SubscriptionKey: s.Key,
		SessionKey:      sessionKey,
		Start:           d,
		End:             d + s.delivery,
		Results:         results,
	})
	s.delivered++
}

func (s *subscription) end(ctx context.Context, sessionKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.sessions[sessionKey]
	if !ok {
		return
	}
	for _, param := range s.ordered {
		if pw, ok := st.params[param]; ok && len(pw.buffer) > 0 {
			s.closeWindow(ctx, sessionKey, st, param, pw)
		}
	}
	for _, d := range st.pendingWindows() {
		s.deliver(ctx, sessionKey, st, d)
	}
	delete(s.sessions, sessionKey)
}

func hzToPeriod(hz float64) time.Duration {
	p := time.Duration(float64(time.Second) / hz)
	if p <= 0 {
		p = 1
	}
	return p
}

func alignDown(ts, period int64) int64 {
	if period <= 0 {
		return ts
	}
	r := ts % period
	if r < 0 {
		r += period
	}
	return ts - r
}
