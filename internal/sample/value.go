// Package sample описывает значения телеметрии, приходящие из потока:
// числовые отсчёты, маркеры (круги), события, ошибки и кадры шины.
package sample

import "fmt"

// Kind задаёт тип значения.
type Kind int

const (
	KindDouble Kind = iota + 1
	KindMarker
	KindEvent
	KindError
	KindBusFrame
)

func (k Kind) String() string {
	switch k {
	case KindDouble:
		return "double"
	case KindMarker:
		return "marker"
	case KindEvent:
		return "event"
	case KindError:
		return "error"
	case KindBusFrame:
		return "bus-frame"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Value закрывает набор типов значений. Реализуется только типами этого пакета.
type Value interface {
	Kind() Kind
	isValue()
}

// Double хранит числовой отсчёт, единственный тип, участвующий в интерполяции и статистике.
type Double float64

// Marker отмечает момент на временной оси (например, начало круга).
type Marker struct {
	Timestamp   int64 // ns
	ID          int64
	Label       string
	Type        string
	Description string
}

// Event описывает дискретное событие с произвольными числовыми данными.
type Event struct {
	ID     string
	Status string
	Data   []float64
}

// Error передаёт ошибку источника данных.
type Error struct {
	Code    int
	Message string
}

// BusFrame содержит сырой кадр шины (CAN и т.п.).
type BusFrame struct {
	ID   uint32
	Data []byte
}

func (Double) Kind() Kind   { return KindDouble }
func (Marker) Kind() Kind   { return KindMarker }
func (Event) Kind() Kind    { return KindEvent }
func (Error) Kind() Kind    { return KindError }
func (BusFrame) Kind() Kind { return KindBusFrame }

func (Double) isValue()   {}
func (Marker) isValue()   {}
func (Event) isValue()    {}
func (Error) isValue()    {}
func (BusFrame) isValue() {}

// AsDouble извлекает числовое значение.
func AsDouble(v Value) (float64, bool) {
	d, ok := v.(Double)
	return float64(d), ok
}

// AsMarker извлекает маркер.
func AsMarker(v Value) (Marker, bool) {
	switch m := v.(type) {
	case Marker:
		return m, true
	case *Marker:
		if m != nil {
			return *m, true
		}
	}
	return Marker{}, false
}

// Doubles оборачивает срез float64 в значения Double.
func Doubles(values ...float64) []Value {
	out := make([]Value, len(values))
	for i, v := range values {
		out[i] = Double(v)
	}
	return out
}
