package artifact

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrCapabilityDenied is matched by a CapabilityError that lists at
	// least one module the policy refuses.
	ErrCapabilityDenied = errors.New("capability denied")

	// ErrUnknownCapability is matched by a CapabilityError that lists at
	// least one module the host does not provide.
	ErrUnknownCapability = errors.New("unknown capability")
)

// CapabilityError reports every requirement of a header that was refused.
// Names appear once each, sorted.
type CapabilityError struct {
	Program string
	Denied  []string
	Unknown []string
}

func (e *CapabilityError) Error() string {
	var parts []string
	if len(e.Denied) > 0 {
		parts = append(parts, fmt.Sprintf("%s: %s", ErrCapabilityDenied, strings.Join(e.Denied, ", ")))
	}
	if len(e.Unknown) > 0 {
		parts = append(parts, fmt.Sprintf("%s: %s", ErrUnknownCapability, strings.Join(e.Unknown, ", ")))
	}
	msg := strings.Join(parts, "; ")
	if e.Program != "" {
		msg = e.Program + ": " + msg
	}
	return msg
}

// Is matches ErrCapabilityDenied and ErrUnknownCapability.
func (e *CapabilityError) Is(target error) bool {
	switch target {
	case ErrCapabilityDenied:
		return len(e.Denied) > 0
	case ErrUnknownCapability:
		return len(e.Unknown) > 0
	}
	return false
}

// CapabilityPolicy decides which builtin modules an artifact may link
// against. Deny rules win over grants. A nil policy grants everything.
type CapabilityPolicy struct {
	granted map[string]bool // nil grants every module
	denied  map[string]bool
}

// NewPermissivePolicy grants every module.
func NewPermissivePolicy() *CapabilityPolicy {
	return &CapabilityPolicy{}
}

// NewRestrictedPolicy grants only the named modules.
func NewRestrictedPolicy(granted []string) *CapabilityPolicy {
	p := &CapabilityPolicy{granted: make(map[string]bool, len(granted))}
	for _, name := range granted {
		p.granted[name] = true
	}
	return p
}

// Deny refuses the named modules regardless of grants.
func (p *CapabilityPolicy) Deny(names ...string) {
	if p.denied == nil {
		p.denied = make(map[string]bool, len(names))
	}
	for _, name := range names {
		p.denied[name] = true
	}
}

// Grants reports whether the policy allows module name.
func (p *CapabilityPolicy) Grants(name string) bool {
	if p == nil {
		return true
	}
	return !p.denied[name] && (p.granted == nil || p.granted[name])
}

// Granted filters names to the modules the policy allows, in order.
func (p *CapabilityPolicy) Granted(names []string) []string {
	var out []string
	for _, name := range names {
		if p.Grants(name) {
			out = append(out, name)
		}
	}
	return out
}

// Check verifies the modules h requires. A module missing from provided is
// unknown; a provided module the policy refuses is denied. A nil provided
// list accepts any module name. The returned *CapabilityError lists every
// refused module, not only the first.
func (p *CapabilityPolicy) Check(h *Header, provided []string) error {
	if h == nil {
		return nil
	}
	var have map[string]bool
	if provided != nil {
		have = make(map[string]bool, len(provided))
		for _, name := range provided {
			have[name] = true
		}
	}

	e := &CapabilityError{Program: h.Name}
	seen := make(map[string]bool, len(h.Capabilities))
	for _, name := range h.Capabilities {
		if seen[name] {
			continue
		}
		seen[name] = true
		switch {
		case have != nil && !have[name]:
			e.Unknown = append(e.Unknown, name)
		case !p.Grants(name):
			e.Denied = append(e.Denied, name)
		}
	}
	if len(e.Denied) == 0 && len(e.Unknown) == 0 {
		return nil
	}
	sort.Strings(e.Denied)
	sort.Strings(e.Unknown)
	return e
}
