package rbac

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

//go:embed policy.yaml
var defaultPolicy []byte

// Policy is the static role and channel-policy document loaded once at
// startup. Channels maps a channel name to the permissions it requires; the
// realtime package owns the set of valid channel names.
type Policy struct {
	Roles    []Role                  `yaml:"roles" validate:"required,min=1,dive"`
	Channels map[string][]Permission `yaml:"channels"`
}

// LoadPolicy reads the policy from path, or the embedded default when path is
// empty.
func LoadPolicy(path string) (*Policy, error) {
	raw := defaultPolicy
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("rbac: read policy %s: %w", path, err)
		}
		raw = data
	}
	return ParsePolicy(raw)
}

// ParsePolicy decodes and validates a YAML policy document.
func ParsePolicy(raw []byte) (*Policy, error) {
	var p Policy
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("%w: decode policy: %v", ErrConfig, err)
	}
	if err := validator.New().Struct(p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks permission references, inherited roles and the hierarchy
// for cycles. All problems are reported together.
func (p *Policy) Validate() error {
	var errs []error
	byName := make(map[string]Role, len(p.Roles))
	for _, role := range p.Roles {
		if _, dup := byName[role.Name]; dup {
			errs = append(errs, fmt.Errorf("%w: duplicate role %q", ErrConfig, role.Name))
			continue
		}
		byName[role.Name] = role
	}
	for _, role := range p.Roles {
		for _, perm := range role.Permissions {
			if !IsKnown(perm) {
				errs = append(errs, fmt.Errorf("%w: %w: role %q grants %q", ErrConfig, ErrUnknownPermission, role.Name, perm))
			}
		}
		for _, parent := range role.Inherits {
			if _, ok := byName[parent]; !ok {
				errs = append(errs, fmt.Errorf("%w: %w: role %q inherits %q", ErrConfig, ErrUnknownRole, role.Name, parent))
			}
		}
	}
	channels := make([]string, 0, len(p.Channels))
	for name := range p.Channels {
		channels = append(channels, name)
	}
	sort.Strings(channels)
	for _, name := range channels {
		for _, perm := range p.Channels[name] {
			if !IsKnown(perm) {
				errs = append(errs, fmt.Errorf("%w: %w: channel %q requires %q", ErrConfig, ErrUnknownPermission, name, perm))
			}
		}
	}
	for _, cycle := range findCycles(byName) {
		errs = append(errs, fmt.Errorf("%w: %w: %v", ErrConfig, ErrRoleCycle, cycle))
	}
	return errors.Join(errs...)
}

// findCycles walks the inheritance graph and returns every back edge as the
// path that closes it.
func findCycles(roles map[string]Role) [][]string {
	const (
		white = iota
		grey
		black
	)
	names := make([]string, 0, len(roles))
	for name := range roles {
		names = append(names, name)
	}
	sort.Strings(names)

	color := make(map[string]int, len(roles))
	var (
		stack  []string
		cycles [][]string
		visit  func(string)
	)
	visit = func(name string) {
		color[name] = grey
		stack = append(stack, name)
		for _, parent := range roles[name].Inherits {
			if _, ok := roles[parent]; !ok {
				continue
			}
			switch color[parent] {
			case white:
				visit(parent)
			case grey:
				start := 0
				for i, n := range stack {
					if n == parent {
						start = i
						break
					}
				}
				cycle := append([]string{}, stack[start:]...)
				cycles = append(cycles, append(cycle, parent))
			}
		}
		stack = stack[:len(stack)-1]
		color[name] = black
	}
	for _, name := range names {
		if color[name] == white {
			visit(name)
		}
	}
	return cycles
}
