package api

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pv/telemetry-recorder/internal/source"
)

var (
	ErrJobActive   = errors.New("generator job is already active")
	ErrNoActiveJob = errors.New("no active generator job")
)

const (
	statusIdle     = "idle"
	statusRunning  = "running"
	statusStopping = "stopping"
	statusDone     = "done"
	statusFailed   = "failed"
)

// Manager отвечает за одну задачу генерации тестовой сессии.
type Manager struct {
	mu sync.Mutex

	dispatcher source.Dispatcher
	defaults   source.Generator
	job        *job
	jobCancel  context.CancelFunc
}

type job struct {
	sessionKey string
	status     string
	startedAt  time.Time
	finishedAt time.Time
	packets    int
	samples    int
	err        error
	done       chan struct{}
}

// GenerateRequest — параметры запуска; нулевые поля берутся из настроек по умолчанию.
type GenerateRequest struct {
	Parameters       []string `json:"parameters,omitempty"`
	Frequency        float64  `json:"frequency,omitempty"`
	SamplesPerPacket int      `json:"samples_per_packet,omitempty"`
	Packets          int      `json:"packets,omitempty"`
	Speed            *float64 `json:"speed,omitempty"`
	SessionKey       string   `json:"session_key,omitempty"`
}

// JobStatus описывает задачу генератора для API.
type JobStatus struct {
	Status     string     `json:"status"`
	SessionKey string     `json:"session_key,omitempty"`
	Packets    int        `json:"packets"`
	Samples    int        `json:"samples"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// NewManager создаёт менеджер. defaults задаёт параметры генератора по умолчанию.
func NewManager(dispatcher source.Dispatcher, defaults source.Generator) *Manager {
	return &Manager{dispatcher: dispatcher, defaults: defaults}
}

func (m *Manager) generator(req GenerateRequest) source.Generator {
	g := m.defaults
	if len(req.Parameters) > 0 {
		g.Parameters = append([]string(nil), req.Parameters...)
	}
	if req.Frequency > 0 {
		g.Frequency = req.Frequency
	}
	if req.SamplesPerPacket > 0 {
		g.SamplesPerPacket = req.SamplesPerPacket
	}
	if req.Packets > 0 {
		g.Packets = req.Packets
	}
	if req.Speed != nil {
		g.Speed = *req.Speed
	}
	g.SessionKey = req.SessionKey
	g.Start = time.Time{}
	return g
}

// Start запускает новую задачу. Разрешён только один одновременный запуск.
func (m *Manager) Start(req GenerateRequest) (JobStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.job != nil && (m.job.status == statusRunning || m.job.status == statusStopping) {
		return m.statusLocked(), ErrJobActive
	}
	if m.dispatcher == nil {
		return JobStatus{}, fmt.Errorf("api: generator dispatcher is not configured")
	}
	g := m.generator(req)
	if len(g.Parameters) == 0 {
		return JobStatus{}, fmt.Errorf("api: no parameters to generate")
	}
	if g.Speed < 0 {
		return JobStatus{}, fmt.Errorf("api: speed must be >= 0")
	}
	if g.SessionKey == "" {
		// ключ нужен заранее, чтобы вернуть его в ответе
		g.SessionKey = source.NewSessionKey()
	}

	// Задача живёт на фоновом контексте, чтобы не завершаться вместе с HTTP-запросом.
	jobCtx, cancel := context.WithCancel(context.Background())
	m.jobCancel = cancel
	j := &job{
		sessionKey: g.SessionKey,
		status:     statusRunning,
		startedAt:  time.Now(),
		done:       make(chan struct{}),
	}
	m.job = j
	g.OnPacket = func(res source.Result) {
		m.mu.Lock()
		defer m.mu.Unlock()
		j.packets = res.Packets
		j.samples = res.Samples
	}

	go func() {
		defer close(j.done)
		res, err := g.Run(jobCtx, m.dispatcher)
		cancel()
		m.mu.Lock()
		defer m.mu.Unlock()
		j.finishedAt = time.Now()
		j.packets = res.Packets
		j.samples = res.Samples
		switch {
		case errors.Is(err, context.Canceled) && j.status == statusStopping:
			j.status = statusDone
		case err != nil:
			j.status = statusFailed
			j.err = err
		default:
			j.status = statusDone
		}
	}()
	return m.statusLocked(), nil
}

// Stop отменяет активную задачу. Сессия при этом закрывается генератором.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.job == nil || m.job.status != statusRunning {
		return ErrNoActiveJob
	}
	m.job.status = statusStopping
	if m.jobCancel != nil {
		m.jobCancel()
	}
	return nil
}

// Wait ждёт завершения текущей задачи.
func (m *Manager) Wait(ctx context.Context) error {
	m.mu.Lock()
	j := m.job
	m.mu.Unlock()
	if j == nil {
		return nil
	}
	select {
	case <-j.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) Status() JobStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked()
}

func (m *Manager) statusLocked() JobStatus {
	if m.job == nil {
		return JobStatus{Status: statusIdle}
	}
	j := m.job
	st := JobStatus{
		Status:     j.status,
		SessionKey: j.sessionKey,
		Packets:    j.packets,
		Samples:    j.samples,
	}
	started := j.startedAt
	st.StartedAt = &started
	if !j.finishedAt.IsZero() {
		finished := j.finishedAt
		st.FinishedAt = &finished
	}
	if j.err != nil {
		st.Error = j.err.Error()
	}
	return st
}
