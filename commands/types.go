// Package commands holds the command registry, the trigger matcher and the
// dispatch pipeline that turns chat messages into command executions.
package commands

import (
	"context"
	"time"

	"github.com/senepa/Firebot/chat"
	"github.com/senepa/Firebot/options"
	"github.com/senepa/Firebot/restrictions"
)

// Type separates code-defined from user-defined commands.
type Type string

const (
	TypeSystem Type = "system"
	TypeCustom Type = "custom"
)

// Cooldown windows in seconds.
type Cooldown struct {
	User   int `json:"user,omitempty"`
	Global int `json:"global,omitempty"`
}

func (c *Cooldown) empty() bool { return c == nil || (c.User <= 0 && c.Global <= 0) }

// Effect is one step of a custom command's response.
type Effect struct {
	ID      string `json:"id,omitempty"`
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
	// Whisper sends the message privately to this username; "{user}" is
	// replaced with the sender.
	Whisper string `json:"whisper,omitempty"`
	// Chatter is "streamer" or "bot".
	Chatter string `json:"chatter,omitempty"`
}

// SubCommand is a first-argument branch of a command.
type SubCommand struct {
	ID string `json:"id"`
	// Arg matches the first argument case-insensitively, or as a full-match
	// pattern when Regex is set.
	Arg               string            `json:"arg"`
	Regex             bool              `json:"regex,omitempty"`
	Usage             string            `json:"usage,omitempty"`
	MinArgs           int               `json:"minArgs,omitempty"`
	Active            *bool             `json:"active,omitempty"`
	Cooldown          *Cooldown         `json:"cooldown,omitempty"`
	RestrictionData   restrictions.Data `json:"restrictionData"`
	AutoDeleteTrigger bool              `json:"autoDeleteTrigger,omitempty"`
}

// IsActive treats an unset flag as active.
func (s SubCommand) IsActive() bool { return s.Active == nil || *s.Active }

// Command is a system or custom command definition.
type Command struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Type        Type   `json:"type"`

	Trigger          string `json:"trigger"`
	TriggerIsRegex   bool   `json:"triggerIsRegex,omitempty"`
	ScanWholeMessage bool   `json:"scanWholeMessage,omitempty"`
	Active           bool   `json:"active"`

	Cooldown            *Cooldown         `json:"cooldown,omitempty"`
	SendCooldownMessage *bool             `json:"sendCooldownMessage,omitempty"`
	RestrictionData     restrictions.Data `json:"restrictionData"`
	MinArgs             int               `json:"minArgs,omitempty"`
	Usage               string            `json:"usage,omitempty"`

	AutoDeleteTrigger bool `json:"autoDeleteTrigger,omitempty"`
	IgnoreBot         bool `json:"ignoreBot,omitempty"`
	IgnoreStreamer    bool `json:"ignoreStreamer,omitempty"`
	SkipLog           bool `json:"skipLog,omitempty"`
	Hidden            bool `json:"hidden,omitempty"`

	SubCommands []SubCommand `json:"subCommands,omitempty"`

	// Options are declared by system commands; OptionValues holds the
	// operator's overrides.
	Options      map[string]options.Definition `json:"options,omitempty"`
	OptionValues map[string]any                `json:"optionValues,omitempty"`

	Effects []Effect `json:"effects,omitempty"`
	Count   int64    `json:"count"`

	CreatedBy  string    `json:"createdBy,omitempty"`
	CreatedAt  time.Time `json:"createdAt,omitzero"`
	LastEditBy string    `json:"lastEditBy,omitempty"`
	LastEditAt time.Time `json:"lastEditAt,omitzero"`
}

func (c Command) shouldSendCooldownMessage() bool {
	return c.SendCooldownMessage == nil || *c.SendCooldownMessage
}

// UserCommand is the per-message view of a triggered command.
type UserCommand struct {
	Trigger       string   `json:"trigger"`
	Args          []string `json:"args"`
	TriggeredArg  string   `json:"triggeredArg,omitempty"`
	SubcommandID  string   `json:"subcommandId,omitempty"`
	CommandSender string   `json:"commandSender"`
	SenderRoles   []string `json:"senderRoles"`
}

// TriggerEvent is handed to a system command's handler.
type TriggerEvent struct {
	Command     Command
	Options     options.Values
	UserCommand UserCommand
	// ChatMessage is nil for manual triggers.
	ChatMessage *chat.Message
}

// Handler runs a system command.
type Handler func(ctx context.Context, ev TriggerEvent) error

// SystemCommand binds a code-defined definition to its handler.
type SystemCommand struct {
	Definition Command
	OnTrigger  Handler
}

// Executor runs a custom command's effects.
type Executor interface {
	Execute(ctx context.Context, cmd Command, uc UserCommand, msg *chat.Message, manual bool) error
}
