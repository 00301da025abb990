package security

import "sort"

// GrantPolicy decides which of a plugin's requested permissions the host is
// willing to grant. Implementations return the requested permissions that
// are NOT granted; an empty slice means everything was granted.
type GrantPolicy interface {
	Missing(pluginID string, requested []Permission) []Permission
}

// AllowlistPolicy grants every low- and medium-risk permission
// automatically. High-risk permissions must be allowlisted, either globally
// or per plugin ID. This is the default deployment policy.
type AllowlistPolicy struct {
	// Global permissions granted to every plugin.
	global map[Permission]bool

	// Per-plugin additional grants.
	perPlugin map[string]map[Permission]bool
}

// NewAllowlistPolicy creates a policy with the given global and per-plugin
// allowlists for high-risk permissions.
func NewAllowlistPolicy(global []Permission, perPlugin map[string][]Permission) *AllowlistPolicy {
	p := &AllowlistPolicy{
		global:    make(map[Permission]bool, len(global)),
		perPlugin: make(map[string]map[Permission]bool, len(perPlugin)),
	}
	for _, perm := range global {
		p.global[perm] = true
	}
	for id, perms := range perPlugin {
		m := make(map[Permission]bool, len(perms))
		for _, perm := range perms {
			m[perm] = true
		}
		p.perPlugin[id] = m
	}
	return p
}

// DefaultPolicy returns a policy with empty allowlists: standard permissions
// pass, every high-risk permission is denied.
func DefaultPolicy() *AllowlistPolicy {
	return NewAllowlistPolicy(nil, nil)
}

// Missing implements GrantPolicy.
func (p *AllowlistPolicy) Missing(pluginID string, requested []Permission) []Permission {
	var missing []Permission
	for _, perm := range requested {
		info, ok := permissionRegistry[perm]
		if !ok {
			// Unknown tokens never pass; the validator catches these
			// earlier, but the policy must not silently grant them.
			missing = append(missing, perm)
			continue
		}
		if info.Risk < RiskHigh {
			continue
		}
		if p.global[perm] {
			continue
		}
		if grants, ok := p.perPlugin[pluginID]; ok && grants[perm] {
			continue
		}
		missing = append(missing, perm)
	}
	sort.Slice(missing, func(i, j int) bool { return missing[i] < missing[j] })
	return missing
}

// AllowAllPolicy grants everything. Intended for tests and trusted
// development setups only.
type AllowAllPolicy struct{}

// Missing implements GrantPolicy.
func (AllowAllPolicy) Missing(string, []Permission) []Permission {
	return nil
}
