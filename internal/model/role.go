package model

import (
	"fmt"
	"strings"
)

// Role is a system role carried by users and by the sessions they open.
type Role string

const (
	RoleOwner  Role = "Owner"
	RoleEditor Role = "Editor"
	RoleViewer Role = "Viewer"
)

// ParseRole accepts a role name in any letter case.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "owner":
		return RoleOwner, nil
	case "editor":
		return RoleEditor, nil
	case "viewer":
		return RoleViewer, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// RoleNames converts roles to their string form, dropping duplicates while
// keeping first-seen order.
func RoleNames(roles []Role) []string {
	if len(roles) == 0 {
		return nil
	}
	seen := make(map[Role]struct{}, len(roles))
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, string(r))
	}
	return out
}
