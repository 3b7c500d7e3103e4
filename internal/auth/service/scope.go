package service

import (
	"slices"
	"strings"
)

const wildcard = "*"

// ResolveScopes reconciles the scopes a caller asked for with what the
// client may hold.
//
// A client allowed "*" gets exactly what it requested, and an empty request
// then means no scopes. Otherwise an empty request defaults to the full
// allowed set, and a non-empty one is intersected with it in request order
// without duplicates.
func ResolveScopes(requested, allowed []string) []string {
	if slices.Contains(allowed, wildcard) {
		return slices.Clone(requested)
	}
	if len(requested) == 0 {
		return slices.Clone(allowed)
	}

	allow := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		allow[a] = struct{}{}
	}

	out := make([]string, 0, len(requested))
	seen := make(map[string]struct{}, len(requested))
	for _, r := range requested {
		if _, ok := allow[r]; !ok {
			continue
		}
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}

// HasScope reports whether granted covers check, either exactly, through
// "*", or through "resource:*" for the resource part of check.
func HasScope(granted []string, check string) bool {
	resource, _, hasColon := strings.Cut(check, ":")
	for _, g := range granted {
		if g == wildcard || g == check {
			return true
		}
		if hasColon && g == resource+":*" {
			return true
		}
	}
	return false
}

// filterByCapabilities keeps the scopes that caps cover.
func filterByCapabilities(scopes, caps []string) []string {
	out := make([]string, 0, len(scopes))
	for _, s := range scopes {
		if HasScope(caps, s) {
			out = append(out, s)
		}
	}
	return out
}
