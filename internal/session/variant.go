package session

import (
	"github.com/pv/telemetry-recorder/pkg/config"
)

// Variant — суффикс производного канала параметра.
type Variant string

const (
	Buffered     Variant = "Buffered"
	Min          Variant = "Min"
	Max          Variant = "Max"
	First        Variant = "First"
	Last         Variant = "Last"
	Mean         Variant = "Mean"
	Interpolated Variant = "Interpolated"
)

// StatsVariants — каналы статистического агрегатора.
var StatsVariants = []Variant{Min, Max, First, Last, Mean}

// AllVariants возвращает все суффиксы в каноническом порядке.
func AllVariants() []Variant {
	return []Variant{Buffered, Min, Max, First, Last, Mean, Interpolated}
}

// VariantProvider сообщает, в какие каналы пишет процессор.
type VariantProvider interface {
	Variants() []Variant
}

// VariantsFor собирает набор суффиксов для активных процессоров.
// Buffered присутствует всегда: в него пишутся сырые значения.
func VariantsFor(providers ...VariantProvider) []Variant {
	need := map[Variant]bool{Buffered: true}
	for _, p := range providers {
		if p == nil {
			continue
		}
		for _, v := range p.Variants() {
			need[v] = true
		}
	}
	out := make([]Variant, 0, len(need))
	for _, v := range AllVariants() {
		if need[v] {
			out = append(out, v)
			delete(need, v)
		}
	}
	// нестандартные суффиксы в конце, в порядке перечисления
	for _, p := range providers {
		if p == nil {
			continue
		}
		for _, v := range p.Variants() {
			if need[v] {
				out = append(out, v)
				delete(need, v)
			}
		}
	}
	return out
}

// ChannelName строит имя канала: группа отбрасывается, "vCar:Chassis" + Min → "vCar_Min".
func ChannelName(parameter string, v Variant) string {
	name, _, err := config.SplitIdentifier(parameter)
	if err != nil {
		name = parameter
	}
	return name + "_" + string(v)
}
