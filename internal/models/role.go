package models

import (
	"fmt"
	"strings"
)

// Role selects the persona, prompt and tool set of an agent.
type Role string

const (
	RoleEngineer Role = "engineer"
	RoleManager  Role = "manager"
	RoleUser     Role = "user"
)

var AllRoles = []Role{RoleEngineer, RoleManager, RoleUser}

func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleEngineer:
		return RoleEngineer, nil
	case RoleManager:
		return RoleManager, nil
	case RoleUser:
		return RoleUser, nil
	}
	return "", fmt.Errorf("unknown role: %q", s)
}
