package config

import (
	"fmt"
	"strings"

	"github.com/go-faster/city"
)

// ParameterKey представляет параметр вида <name>:<group> с hash идентификатором.
type ParameterKey struct {
	Identifier string // полный идентификатор, например vCar:Chassis
	Name       string // имя без группы, используется для имён каналов
	Group      string // может быть пустым
	Hash       int64  // cityhash64(identifier), ключ поиска в ParameterRegistry
	Meta       ParameterMeta
}

// NewParameterKey разбирает идентификатор и вычисляет hash.
func NewParameterKey(identifier string) (*ParameterKey, error) {
	name, group, err := SplitIdentifier(identifier)
	if err != nil {
		return nil, err
	}
	return &ParameterKey{
		Identifier: identifier,
		Name:       name,
		Group:      group,
		Hash:       HashForIdentifier(identifier),
	}, nil
}

// SplitIdentifier отделяет суффикс группы: "vCar:Chassis" → ("vCar", "Chassis").
func SplitIdentifier(identifier string) (name, group string, err error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return "", "", fmt.Errorf("config: parameter identifier is empty")
	}
	name, group, _ = strings.Cut(identifier, ":")
	if name == "" {
		return "", "", fmt.Errorf("config: parameter identifier %q has empty name", identifier)
	}
	return name, group, nil
}

// HashForIdentifier вычисляет cityhash64 для идентификатора параметра.
func HashForIdentifier(identifier string) int64 {
	return int64(city.Hash64([]byte(identifier)))
}
