package domain

import "fmt"

type Role string

const (
	RoleParticipant Role = "participant"
	RoleModerator   Role = "moderator"
)

func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleParticipant, RoleModerator:
		return Role(s), nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}
