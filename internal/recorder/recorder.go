package recorder

import (
	"context"
	"errors"
	"time"
)

// Handle — непрозрачный идентификатор сессии записи (uuid).
type Handle string

// ChannelID — номер канала внутри сессии. Назначается последовательно и не меняется.
type ChannelID uint32

// DataType задаёт тип значений канала.
type DataType int

const (
	DataTypeFloat64 DataType = iota + 1
)

func (t DataType) String() string {
	if t == DataTypeFloat64 {
		return "float64"
	}
	return "unknown"
}

// SessionInfo описывает создаваемую сессию записи.
type SessionInfo struct {
	Key        string // ключ сессии из потока
	Identifier string // человекочитаемое имя
	CreatedAt  time.Time
}

// Lap — отметка круга/маркер на временной оси сессии.
type Lap struct {
	Timestamp int64 // ns
	Number    int64
	Name      string
}

// Recorder — хранилище временных рядов, индексированных по каналам.
// Порядок работы: CreateSession → RegisterChannel... → CommitConfiguration →
// WriteRow/WriteSeries/AddLap... → EndSession → CloseSession.
type Recorder interface {
	CreateSession(ctx context.Context, info SessionInfo) (Handle, error)
	RegisterChannel(ctx context.Context, h Handle, name string, dt DataType) (ChannelID, error)
	CommitConfiguration(ctx context.Context, h Handle) error
	// WriteRow пишет по одному значению в каждый канал с общей меткой времени.
	WriteRow(ctx context.Context, h Handle, ids []ChannelID, ts int64, values []float64) error
	// WriteSeries пишет ряд значений одного канала.
	WriteSeries(ctx context.Context, h Handle, id ChannelID, ts []int64, values []float64) error
	AddLap(ctx context.Context, h Handle, lap Lap) error
	// EndSession дописывает буферы и запрещает дальнейшую запись.
	EndSession(ctx context.Context, h Handle) error
	// CloseSession освобождает ресурсы сессии.
	CloseSession(ctx context.Context, h Handle) error
	// Close закрывает само хранилище.
	Close() error
}

var (
	ErrUnknownSession  = errors.New("recorder: unknown session")
	ErrUnknownChannel  = errors.New("recorder: unknown channel")
	ErrCommitted       = errors.New("recorder: configuration already committed")
	ErrNotCommitted    = errors.New("recorder: configuration is not committed")
	ErrSessionEnded    = errors.New("recorder: session already ended")
	ErrLengthMismatch  = errors.New("recorder: ids/timestamps and values length mismatch")
	ErrEmptyName       = errors.New("recorder: channel name is empty")
	ErrUnsupportedType = errors.New("recorder: unsupported data type")
)
