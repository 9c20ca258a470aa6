package version

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ErrUnsupported is returned for versions the policy does not serve
var ErrUnsupported = errors.New("unsupported version")

// Deprecation describes a deprecated version
type Deprecation struct {
	Version      Version   `json:"version"`
	DeprecatedAt time.Time `json:"deprecatedAt"`
	Sunset       time.Time `json:"sunset,omitempty"`
}

// Policy holds the supported versions. Only the deprecated set changes
// after startup, through Deprecate.
type Policy struct {
	supported  []Version
	def        Version
	mu         sync.RWMutex
	deprecated map[Version]Deprecation
}

// NewPolicy creates a policy. The default must be one of supported.
func NewPolicy(supported []string, def string) (*Policy, error) {
	if len(supported) == 0 {
		return nil, fmt.Errorf("at least one supported version is required")
	}

	p := &Policy{deprecated: make(map[Version]Deprecation)}
	seen := make(map[Version]bool, len(supported))
	for _, s := range supported {
		v, err := Parse(s)
		if err != nil {
			return nil, err
		}
		if !seen[v] {
			seen[v] = true
			p.supported = append(p.supported, v)
		}
	}
	sort.Slice(p.supported, func(i, j int) bool {
		return p.supported[i].Compare(p.supported[j]) < 0
	})

	d, err := Parse(def)
	if err != nil {
		return nil, fmt.Errorf("invalid default version: %w", err)
	}
	if !seen[d] {
		return nil, fmt.Errorf("%w: default %s is not in the supported list", ErrUnsupported, d)
	}
	p.def = d

	return p, nil
}

// Default returns the version used when a request names none, or an unknown one
func (p *Policy) Default() Version {
	return p.def
}

// Supported returns the supported versions, oldest first
func (p *Policy) Supported() []Version {
	out := make([]Version, len(p.supported))
	copy(out, p.supported)
	return out
}

// IsSupported reports whether v is served
func (p *Policy) IsSupported(v Version) bool {
	for _, s := range p.supported {
		if s == v {
			return true
		}
	}
	return false
}

// Deprecate marks v deprecated. Calling it again updates the dates.
func (p *Policy) Deprecate(v Version, deprecatedAt, sunset time.Time) error {
	if !p.IsSupported(v) {
		return fmt.Errorf("%w: %s", ErrUnsupported, v)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.deprecated[v] = Deprecation{Version: v, DeprecatedAt: deprecatedAt, Sunset: sunset}
	return nil
}

// Deprecation returns the deprecation record for v, if any
func (p *Policy) Deprecation(v Version) (Deprecation, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	d, ok := p.deprecated[v]
	return d, ok
}

// Deprecated lists every deprecated version, oldest first
func (p *Policy) Deprecated() []Deprecation {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]Deprecation, 0, len(p.deprecated))
	for _, d := range p.deprecated {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Version.Compare(out[j].Version) < 0
	})
	return out
}

// Successor returns the next newer supported version that is not deprecated
func (p *Policy) Successor(v Version) (Version, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, s := range p.supported {
		if s.Compare(v) <= 0 {
			continue
		}
		if _, deprecated := p.deprecated[s]; !deprecated {
			return s, true
		}
	}
	return Version{}, false
}
