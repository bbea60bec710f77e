package wsbot

import (
	"github.com/bwmarrin/discordgo"
)

// MemberAuthorizer decides whether a guild member may page through
// results requested by someone else
type MemberAuthorizer interface {
	Authorized(member *discordgo.Member) bool
}

// roleAuthorizer grants access to members holding any of the
// configured roles, or any of the configured permission bits
type roleAuthorizer struct {
	roles       map[string]struct{}
	permissions int64
}

func newRoleAuthorizer(roleIDs []string, permissions int64) *roleAuthorizer {
	roles := make(map[string]struct{}, len(roleIDs))
	for _, r := range roleIDs {
		if r != "" {
			roles[r] = struct{}{}
		}
	}
	return &roleAuthorizer{roles: roles, permissions: permissions}
}

func (a *roleAuthorizer) Authorized(member *discordgo.Member) bool {
	if member == nil {
		return false
	}
	for _, r := range member.Roles {
		if _, ok := a.roles[r]; ok {
			return true
		}
	}
	return a.permissions != 0 && member.Permissions&a.permissions != 0
}
