package lower

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v2"

	"github.com/loamlang/loamgc/rt"
)

// Flavor selects the collector family a module is compiled for.
type Flavor uint8

const (
	// FlavorNonMoving is a standard non-relocating collector. Write
	// barrier markers are illegal under it.
	FlavorNonMoving Flavor = iota
	// FlavorMoving is a relocating collector: barrier markers lower
	// to the barrier entries.
	FlavorMoving
)

func (f Flavor) String() string {
	switch f {
	case FlavorNonMoving:
		return "nonmoving"
	case FlavorMoving:
		return "moving"
	}
	return fmt.Sprintf("Flavor(%d)", uint8(f))
}

// ParseFlavor reads a flavor name. The empty string is the default
// flavor.
func ParseFlavor(s string) (Flavor, error) {
	switch s {
	case "", "nonmoving":
		return FlavorNonMoving, nil
	case "moving":
		return FlavorMoving, nil
	}
	return 0, fmt.Errorf("lower: unknown collector flavor %q", s)
}

// Policy is the build-time collector configuration: the flavor, how
// constant small allocations lower, and the context block layout
// shared with the runtime. A pass is created over one policy and
// never changes it, so every function of a module lowers under the
// same protocol.
type Policy struct {
	Flavor     Flavor
	InlineBump bool
	Layout     rt.Layout
}

// DefaultPolicy is a call-based non-moving configuration over the
// default layout.
func DefaultPolicy() Policy {
	return Policy{Flavor: FlavorNonMoving, Layout: rt.DefaultLayout()}
}

// Validate checks that the policy is usable.
func (p Policy) Validate() error {
	return p.Layout.Validate()
}

type policyFile struct {
	Collector  string      `yaml:"collector"`
	InlineBump bool        `yaml:"inline_bump"`
	Layout     *layoutFile `yaml:"layout"`
}

type layoutFile struct {
	GCStack    *int64 `yaml:"gc_stack"`
	Cursor     *int64 `yaml:"cursor"`
	Limit      *int64 `yaml:"limit"`
	AllocBytes *int64 `yaml:"alloc_bytes"`
}

// ParsePolicy reads a YAML policy. Omitted fields keep their defaults;
// unknown fields are errors, since a typoed offset would silently
// desynchronize compiler and runtime.
func ParsePolicy(data []byte) (Policy, error) {
	var pf policyFile
	if err := yaml.UnmarshalStrict(data, &pf); err != nil {
		return Policy{}, fmt.Errorf("lower: parsing policy: %w", err)
	}
	pol := DefaultPolicy()
	fl, err := ParseFlavor(pf.Collector)
	if err != nil {
		return Policy{}, err
	}
	pol.Flavor = fl
	pol.InlineBump = pf.InlineBump
	if pf.Layout != nil {
		if pf.Layout.GCStack != nil {
			pol.Layout.GCStack = *pf.Layout.GCStack
		}
		if pf.Layout.Cursor != nil {
			pol.Layout.Cursor = *pf.Layout.Cursor
		}
		if pf.Layout.Limit != nil {
			pol.Layout.Limit = *pf.Layout.Limit
		}
		if pf.Layout.AllocBytes != nil {
			pol.Layout.AllocBytes = *pf.Layout.AllocBytes
		}
	}
	if err := pol.Validate(); err != nil {
		return Policy{}, err
	}
	return pol, nil
}

// LoadPolicy reads a YAML policy from r.
func LoadPolicy(r io.Reader) (Policy, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Policy{}, fmt.Errorf("lower: reading policy: %w", err)
	}
	return ParsePolicy(data)
}
