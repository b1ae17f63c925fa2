// Zone activation masks for the five-zone thermode surface.
package mask

import (
	"fmt"

	"tprf-host/pkg/config"
	"tprf-host/pkg/errors"
)

// Mask names which zones follow the delta waveform and with which
// polarity: +1 warm, -1 cool, 0 held at baseline. Warm-first versus
// cool-first is a property of the block, not the mask; the runner phase
// shifts the waveform instead of swapping masks.
type Mask struct {
	Name    string
	Pattern [5]int
}

// IsTGI reports whether the mask drives warm and cool zones at the same
// time (the thermal grill configuration).
func (m Mask) IsTGI() bool {
	warm, cool := false, false
	for _, p := range m.Pattern {
		if p > 0 {
			warm = true
		}
		if p < 0 {
			cool = true
		}
	}
	return warm && cool
}

// ActiveZones returns the zero-based indices of the driven zones.
func (m Mask) ActiveZones() []int {
	var zones []int
	for z, p := range m.Pattern {
		if p != 0 {
			zones = append(zones, z)
		}
	}
	return zones
}

// Registry resolves mask names. Lookups of unknown names fail at block
// setup, before any hardware interaction.
type Registry struct {
	masks map[string]Mask
	order []string
}

// Builtin masks: paired-zone warm/cool patterns and the two interleaved
// grill patterns.
var builtins = []Mask{
	{"P1_W", [5]int{1, 1, 0, 0, 0}},
	{"P1_C", [5]int{-1, -1, 0, 0, 0}},
	{"P3_W", [5]int{0, 0, 1, 1, 0}},
	{"P3_C", [5]int{0, 0, -1, -1, 0}},
	{"TGI_1", [5]int{1, -1, 1, -1, 0}},
	{"TGI_2", [5]int{-1, 1, -1, 1, 0}},
}

// NewRegistry creates a registry seeded with the builtin masks.
func NewRegistry() *Registry {
	r := &Registry{masks: make(map[string]Mask)}
	for _, m := range builtins {
		r.masks[m.Name] = m
		r.order = append(r.order, m.Name)
	}
	return r
}

// Names returns all registered mask names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Lookup resolves a mask by name.
func (r *Registry) Lookup(name string) (Mask, error) {
	m, ok := r.masks[name]
	if !ok {
		return Mask{}, errors.MaskUnknownError(name, r.Names())
	}
	return m, nil
}

// Register adds a mask after validating its pattern. Redefining an
// existing name is rejected so a site file cannot silently change what a
// builtin name means.
func (r *Registry) Register(m Mask) error {
	if m.Name == "" {
		return fmt.Errorf("mask: empty name")
	}
	if _, exists := r.masks[m.Name]; exists {
		return fmt.Errorf("mask: %s already registered", m.Name)
	}
	for z, p := range m.Pattern {
		if p < -1 || p > 1 {
			return fmt.Errorf("mask %s: zone %d entry %d not in {-1, 0, +1}", m.Name, z, p)
		}
	}
	r.masks[m.Name] = m
	r.order = append(r.order, m.Name)
	return nil
}

// LoadConfig registers custom masks from [mask NAME] sections. Each
// section needs a five-entry pattern key.
func (r *Registry) LoadConfig(cfg *config.Config) error {
	for _, sec := range cfg.GetPrefixSections("mask ") {
		name := sec.GetName()[len("mask "):]
		pattern, err := sec.GetIntTuple("pattern", 5)
		if err != nil {
			return err
		}
		m := Mask{Name: name}
		copy(m.Pattern[:], pattern)
		if err := r.Register(m); err != nil {
			return err
		}
	}
	return nil
}
