// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Tangzhuhan

package config

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// ErrPresetNotFound reports a lookup of a name the store does not hold
var ErrPresetNotFound = errors.New("preset not found")

// PresetStore keeps named experiment configurations in one YAML file,
// a map from preset name to Experiment.
type PresetStore struct {
	path string
}

// NewPresetStore points at the preset file; the file may not exist yet
func NewPresetStore(path string) *PresetStore {
	return &PresetStore{path: path}
}

func (s *PresetStore) load() (map[string]Experiment, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]Experiment{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading presets: %w", err)
	}
	presets := map[string]Experiment{}
	if err := yaml.Unmarshal(data, &presets); err != nil {
		return nil, fmt.Errorf("parsing presets %s: %w", s.path, err)
	}
	return presets, nil
}

func (s *PresetStore) save(presets map[string]Experiment) error {
	data, err := yaml.Marshal(presets)
	if err != nil {
		return fmt.Errorf("encoding presets: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("writing presets: %w", err)
	}
	return nil
}

// List returns the stored preset names, sorted
func (s *PresetStore) List() ([]string, error) {
	presets, err := s.load()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Get returns the named preset
func (s *PresetStore) Get(name string) (Experiment, error) {
	presets, err := s.load()
	if err != nil {
		return Experiment{}, err
	}
	exp, ok := presets[name]
	if !ok {
		return Experiment{}, fmt.Errorf("%w: %q", ErrPresetNotFound, name)
	}
	return exp, nil
}

// Put stores or replaces the named preset
func (s *PresetStore) Put(name string, exp Experiment) error {
	presets, err := s.load()
	if err != nil {
		return err
	}
	exp.Name = name
	presets[name] = exp
	return s.save(presets)
}

// Delete removes the named preset
func (s *PresetStore) Delete(name string) error {
	presets, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := presets[name]; !ok {
		return fmt.Errorf("%w: %q", ErrPresetNotFound, name)
	}
	delete(presets, name)
	return s.save(presets)
}
