package domain

import (
	accessdomain "opensase/access-plane/internal/access/domain"
	"opensase/access-plane/internal/accessctx"
	resourcedomain "opensase/access-plane/internal/resource/domain"
)

// Policy is one ordered access rule. Policies are evaluated by ascending Priority
// and the first enabled match wins.
type Policy struct {
	ID          string
	Name        string
	Description string
	// Priority orders evaluation; lower is evaluated first.
	Priority int
	Enabled  bool
	Match    Match
	Effect   accessdomain.Decision // allow, deny, or challenge
	// Conditions are advisory annotations returned with a matching allow.
	Conditions []accessdomain.Condition
	// RegoRule is an optional Rego module evaluated as an extra match condition.
	// Empty means the structural Match alone decides.
	RegoRule string
}

// Match holds the request attributes a policy matches on. Empty fields match anything;
// all populated fields must match (conjunction).
type Match struct {
	// Segments match the resource's network segment.
	Segments []string
	// Resources match resource ids.
	Resources []string
	// ResourceTypes match the resource classification.
	ResourceTypes []resourcedomain.ResourceType
	// MinSensitivity matches resources at or above the given classification.
	MinSensitivity *resourcedomain.Sensitivity
	// Groups match any identity group.
	Groups []string
	// Roles match any identity role.
	Roles []string
	// Networks match the context network classification.
	Networks []accessctx.NetworkType
	// Countries match the geolocated country; requests without geolocation never match.
	Countries []string
	// RequireManaged, when set, matches only devices with the given managed flag.
	RequireManaged *bool
	// RequireCompliant, when set, matches only devices with the given compliant flag.
	RequireCompliant *bool
	// Hours matches the access hour within the inclusive window.
	Hours *accessctx.HourWindow
}

// Matches reports whether every populated matcher holds for the request.
func (m *Match) Matches(req *accessdomain.AccessRequest) bool {
	if len(m.Segments) > 0 && !containsString(m.Segments, req.Resource.Segment) {
		return false
	}
	if len(m.Resources) > 0 && !containsString(m.Resources, req.Resource.ID) {
		return false
	}
	if len(m.ResourceTypes) > 0 && !containsType(m.ResourceTypes, req.Resource.Type) {
		return false
	}
	if m.MinSensitivity != nil && req.Resource.Sensitivity < *m.MinSensitivity {
		return false
	}
	if len(m.Groups) > 0 && !anyGroup(req, m.Groups) {
		return false
	}
	if len(m.Roles) > 0 && !anyRole(req, m.Roles) {
		return false
	}
	if len(m.Networks) > 0 && !containsNetwork(m.Networks, req.Context.NetworkType) {
		return false
	}
	if len(m.Countries) > 0 {
		if req.Context.GeoLocation == nil || !containsString(m.Countries, req.Context.GeoLocation.Country) {
			return false
		}
	}
	if m.RequireManaged != nil && (req.Device == nil || req.Device.Managed != *m.RequireManaged) {
		return false
	}
	if m.RequireCompliant != nil && (req.Device == nil || req.Device.Compliant != *m.RequireCompliant) {
		return false
	}
	if m.Hours != nil {
		hour := req.Context.TimeOfAccess.Hour()
		if hour < m.Hours.Start || hour > m.Hours.End {
			return false
		}
	}
	return true
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func containsType(haystack []resourcedomain.ResourceType, needle resourcedomain.ResourceType) bool {
	for _, t := range haystack {
		if t == needle {
			return true
		}
	}
	return false
}

func containsNetwork(haystack []accessctx.NetworkType, needle accessctx.NetworkType) bool {
	for _, n := range haystack {
		if n == needle {
			return true
		}
	}
	return false
}

func anyGroup(req *accessdomain.AccessRequest, groups []string) bool {
	for _, g := range groups {
		if req.Identity.InGroup(g) {
			return true
		}
	}
	return false
}

func anyRole(req *accessdomain.AccessRequest, roles []string) bool {
	for _, r := range roles {
		if req.Identity.HasRole(r) {
			return true
		}
	}
	return false
}
