package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParameterMeta содержит дополнительную информацию о параметре.
type ParameterMeta struct {
	Description string  `json:"description" yaml:"description"`
	Units       string  `json:"units" yaml:"units"`
	Frequency   float64 `json:"frequency" yaml:"frequency"`
}

// Config описывает список записываемых параметров и их наборы.
type Config struct {
	Parameters []string                 `json:"parameters" yaml:"parameters"`
	Sets       map[string][]string      `json:"sets" yaml:"sets"`
	Meta       map[string]ParameterMeta `json:"meta" yaml:"meta"`
	known      map[string]struct{}
}

// Load загружает конфигурацию параметров из JSON или YAML.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config: path is empty")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	cfg := &Config{
		Sets: map[string][]string{},
		Meta: map[string]ParameterMeta{},
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json", "":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: failed to decode JSON: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: failed to decode YAML: %w", err)
		}
	default:
		return nil, fmt.Errorf("config: format %s is not supported yet", ext)
	}

	if len(cfg.Parameters) == 0 {
		return nil, errors.New("config: parameters list is empty")
	}
	for _, id := range cfg.Parameters {
		if _, _, err := SplitIdentifier(id); err != nil {
			return nil, err
		}
	}
	cfg.buildIndex()
	return cfg, nil
}

// FromParameters собирает конфигурацию из явного списка идентификаторов (флаг --params).
func FromParameters(ids []string) (*Config, error) {
	cfg := &Config{Sets: map[string][]string{}, Meta: map[string]ParameterMeta{}}
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, _, err := SplitIdentifier(id); err != nil {
			return nil, err
		}
		cfg.Parameters = append(cfg.Parameters, id)
	}
	if len(cfg.Parameters) == 0 {
		return nil, errors.New("config: parameters list is empty")
	}
	cfg.buildIndex()
	return cfg, nil
}

// Resolve возвращает список идентификаторов параметров согласно селектору.
// Селектор: "ALL", имя набора из Sets, идентификатор параметра, маска или список через запятую.
func (c *Config) Resolve(selector string) ([]string, error) {
	if c == nil {
		return nil, errors.New("config: configuration is nil")
	}
	if selector == "" || strings.EqualFold(selector, "ALL") {
		return c.allParameters(), nil
	}

	if ids, ok := c.Sets[selector]; ok {
		return c.fromSet(ids)
	}

	if strings.Contains(selector, ",") {
		var ids []string
		for _, part := range strings.Split(selector, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			resolved, err := c.resolveSingle(part)
			if err != nil {
				return nil, err
			}
			ids = append(ids, resolved...)
		}
		return dedup(ids), nil
	}

	return c.resolveSingle(selector)
}

func (c *Config) resolveSingle(selector string) ([]string, error) {
	if c.Has(selector) {
		return []string{selector}, nil
	}

	if strings.ContainsAny(selector, "*?") {
		return c.fromPattern(selector)
	}

	return nil, fmt.Errorf("config: failed to resolve selector %q", selector)
}

// Has сообщает, описан ли параметр в конфигурации.
func (c *Config) Has(id string) bool {
	if c == nil {
		return false
	}
	if c.known == nil {
		c.buildIndex()
	}
	_, ok := c.known[id]
	return ok
}

func (c *Config) allParameters() []string {
	ids := dedup(c.Parameters)
	sort.Strings(ids)
	return ids
}

func (c *Config) fromSet(ids []string) ([]string, error) {
	result := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if !c.Has(id) {
			return nil, fmt.Errorf("config: parameter %q not found", id)
		}
		result = append(result, id)
	}
	if len(result) == 0 {
		return nil, errors.New("config: result is empty")
	}
	return dedup(result), nil
}

func (c *Config) fromPattern(pattern string) ([]string, error) {
	var ids []string
	for _, id := range c.allParameters() {
		ok, err := filepath.Match(pattern, id)
		if err != nil {
			return nil, fmt.Errorf("config: invalid pattern %q: %w", pattern, err)
		}
		if ok {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("config: pattern %q matched nothing", pattern)
	}
	return ids, nil
}

func (c *Config) buildIndex() {
	c.known = make(map[string]struct{}, len(c.Parameters))
	for _, id := range c.Parameters {
		c.known[id] = struct{}{}
	}
}

// Registry строит реестр для выбранного списка параметров.
func (c *Config) Registry(ids []string) (*ParameterRegistry, error) {
	reg := NewParameterRegistry()
	for _, id := range ids {
		key, err := NewParameterKey(id)
		if err != nil {
			return nil, err
		}
		key.Meta = c.Meta[id]
		if err := reg.Add(key); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func dedup(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
