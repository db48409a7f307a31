// Package processing обрабатывает окна данных подписок: интерполяция на
// сетку фиксированного шага и статистика по интервалу.
package processing

import (
	"context"

	"github.com/pv/telemetry-recorder/internal/sample"
)

// Sample — точка интерполированного ряда.
type Sample struct {
	Timestamp int64
	Value     float64
}

// Stats описывает статистику интервала. Для пустого интервала Count=0 и все указатели nil.
type Stats struct {
	Count int
	First *float64
	Last  *float64
	Min   *float64
	Max   *float64
	Mean  *float64
}

// Empty сообщает, что в интервале не было данных.
func (s *Stats) Empty() bool {
	return s == nil || s.Count == 0
}

// ProcessContext описывает вход процессора для одного параметра и интервала.
type ProcessContext struct {
	Parameter string
	Start     int64
	End       int64
	Points    []sample.DataPoint // по возрастанию времени
}

// ProcessResult описывает выход процессора. Заполнено Stats или Series, в зависимости от процессора.
type ProcessResult struct {
	Parameter string
	Start     int64
	End       int64
	Stats     *Stats
	Series    []Sample
}

// BatchResult собирает результаты, доставляемые обработчику за интервал доставки.
type BatchResult struct {
	SubscriptionKey string
	SessionKey      string
	Start           int64
	End             int64
	Results         []ProcessResult
}

type Processor interface {
	Process(ProcessContext) ProcessResult
}

type ResultHandler interface {
	HandleResult(ctx context.Context, batch BatchResult)
}

// ResultHandlerFunc позволяет использовать функцию как ResultHandler.
type ResultHandlerFunc func(ctx context.Context, batch BatchResult)

func (f ResultHandlerFunc) HandleResult(ctx context.Context, batch BatchResult) { f(ctx, batch) }
