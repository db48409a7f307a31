// Package ingest принимает пакеты телеметрии двух форм (по параметру и по
// метке времени), управляет границами сессий и пишет сырые значения.
package ingest

import (
	"github.com/pv/telemetry-recorder/internal/sample"
)

// Kind отличает пакеты данных от служебных пакетов начала и конца сессии.
type Kind int

const (
	KindData Kind = iota
	KindStart
	KindEnd
)

func (k Kind) String() string {
	switch k {
	case KindData:
		return "data"
	case KindStart:
		return "start"
	case KindEnd:
		return "end"
	default:
		return "unknown"
	}
}

// Batch — пакет любой формы. Реализуют только ParameterBatch и TimestampBatch.
type Batch interface {
	Key() string
	BatchKind() Kind
	isBatch()
}

// ParameterBatch — значения одного параметра с параллельным массивом меток времени.
type ParameterBatch struct {
	Kind       Kind
	SessionKey string
	Parameter  string
	Timestamps []int64
	Values     []sample.Value
}

func NewParameterStart(key string) ParameterBatch {
	return ParameterBatch{Kind: KindStart, SessionKey: key}
}

func NewParameterEnd(key string) ParameterBatch {
	return ParameterBatch{Kind: KindEnd, SessionKey: key}
}

func (b ParameterBatch) Key() string     { return b.SessionKey }
func (b ParameterBatch) BatchKind() Kind { return b.Kind }
func (ParameterBatch) isBatch()          {}

// TimeColumn — значения нескольких параметров с общей меткой времени.
type TimeColumn struct {
	Timestamp  int64
	Parameters []string
	Values     []sample.Value
}

// TimestampBatch — набор временных столбцов одной сессии.
type TimestampBatch struct {
	Kind       Kind
	SessionKey string
	Columns    []TimeColumn
}

func NewTimestampStart(key string) TimestampBatch {
	return TimestampBatch{Kind: KindStart, SessionKey: key}
}

func NewTimestampEnd(key string) TimestampBatch {
	return TimestampBatch{Kind: KindEnd, SessionKey: key}
}

func (b TimestampBatch) Key() string     { return b.SessionKey }
func (b TimestampBatch) BatchKind() Kind { return b.Kind }
func (TimestampBatch) isBatch()          {}
