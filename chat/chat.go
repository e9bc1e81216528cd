package chat

import (
	"context"
	"strings"
	"time"
	"unicode"
)

// MaxMessageLength is Twitch's per-message character limit.
const MaxMessageLength = 500

// Role ids derived from chat badges.
const (
	RoleBroadcaster = "broadcaster"
	RoleMod         = "mod"
	RoleVIP         = "vip"
	RoleSubscriber  = "sub"
)

// Account selects which login sends a message.
type Account string

const (
	AccountDefault  Account = ""
	AccountStreamer Account = "streamer"
	AccountBot      Account = "bot"
)

// Message is one inbound chat message.
type Message struct {
	ID          string    `json:"id"`
	Channel     string    `json:"channel"`
	UserID      string    `json:"userId"`
	Username    string    `json:"username"`
	DisplayName string    `json:"displayName"`
	Text        string    `json:"text"`
	Roles       []string  `json:"roles"`
	Time        time.Time `json:"time"`
	// Echo marks a message the streamer account sent through this transport.
	Echo bool `json:"echo,omitempty"`
}

// HasRole reports whether the sender carries role.
func (m Message) HasRole(role string) bool {
	for _, r := range m.Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

// SendOptions controls an outbound message.
type SendOptions struct {
	// Whisper sends privately to this username instead of the channel.
	Whisper string
	Account Account
}

// Sender delivers outbound chat.
type Sender interface {
	Send(ctx context.Context, text string, opts SendOptions) error
}

// RolesFromBadges maps Twitch badge names onto role ids.
func RolesFromBadges(badges map[string]int) []string {
	var roles []string
	seen := map[string]bool{}
	add := func(r string) {
		if !seen[r] {
			seen[r] = true
			roles = append(roles, r)
		}
	}
	for badge := range badges {
		switch badge {
		case "broadcaster":
			add(RoleBroadcaster)
			add(RoleMod)
		case "moderator":
			add(RoleMod)
		case "vip":
			add(RoleVIP)
		case "subscriber", "founder":
			add(RoleSubscriber)
		}
	}
	return roles
}

// SplitMessage breaks text into trimmed, non-empty fragments of at most max
// runes, preferring to break on whitespace.
func SplitMessage(text string, max int) []string {
	if max <= 0 {
		max = MaxMessageLength
	}
	var out []string
	rest := []rune(strings.TrimSpace(text))
	for len(rest) > 0 {
		if len(rest) <= max {
			out = appendFragment(out, string(rest))
			break
		}
		cut := max
		for i := max; i > max/2; i-- {
			if unicode.IsSpace(rest[i]) {
				cut = i
				break
			}
		}
		out = appendFragment(out, string(rest[:cut]))
		rest = []rune(strings.TrimLeftFunc(string(rest[cut:]), unicode.IsSpace))
	}
	return out
}

func appendFragment(out []string, s string) []string {
	if s = strings.TrimSpace(s); s != "" {
		out = append(out, s)
	}
	return out
}
