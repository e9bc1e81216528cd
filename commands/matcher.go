package commands

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/senepa/Firebot/chat"
)

type patternEntry struct {
	re  *regexp.Regexp
	err error
}

// patternCache memoizes compiled trigger patterns, including failures.
type patternCache struct {
	mu sync.Mutex
	m  map[string]*patternEntry
}

func (p *patternCache) get(pattern string) (*regexp.Regexp, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.m[pattern]; ok {
		return e.re, e.err
	}
	re, err := compilePattern(pattern)
	p.m[pattern] = &patternEntry{re: re, err: err}
	return re, err
}

func compilePattern(pattern string) (*regexp.Regexp, error) {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, fmt.Errorf("bad trigger pattern %q: %w", pattern, err)
	}
	return re, nil
}

// triggerPattern builds the match pattern for a command. Plain triggers are
// escaped and must be followed by a word boundary, whitespace or the end.
func triggerPattern(c Command) string {
	if c.TriggerIsRegex {
		return c.Trigger
	}
	escaped := regexp.QuoteMeta(strings.ToLower(c.Trigger))
	if c.ScanWholeMessage {
		return `(?:^|\s)` + escaped + `(?:\b|$|\s)`
	}
	return `^` + escaped + `(?:\b|$|\s)`
}

// FindCommand returns the first active command whose trigger matches text.
func (r *Registry) FindCommand(text string) (Command, bool) {
	if text == "" {
		return Command{}, false
	}
	normalized := strings.ToLower(text)
	for _, c := range r.GetAllActiveCommands() {
		if c.Trigger == "" {
			continue
		}
		re, err := r.patterns.get(triggerPattern(c))
		if err != nil {
			r.logger.Warn("skipping command with invalid trigger", slog.String("id", c.ID), slog.Any("err", err))
			continue
		}
		if re.MatchString(normalized) {
			return c, true
		}
	}
	return Command{}, false
}

// ResolveSubCommand returns the first active sub-command matching the first
// argument. Whole-message commands never resolve sub-commands.
func ResolveSubCommand(c Command, args []string) (SubCommand, bool) {
	if c.ScanWholeMessage || len(args) == 0 {
		return SubCommand{}, false
	}
	first := args[0]
	for _, sub := range c.SubCommands {
		if !sub.IsActive() {
			continue
		}
		if sub.Regex {
			re, err := compilePattern("^(?:" + sub.Arg + ")$")
			if err == nil && re.MatchString(first) {
				return sub, true
			}
			continue
		}
		if strings.EqualFold(sub.Arg, first) {
			return sub, true
		}
	}
	return SubCommand{}, false
}

// BuildUserCommand splits a raw message into trigger and arguments. With no
// message (manual triggers) the command's own trigger is used.
func BuildUserCommand(c Command, raw, sender string, roles []string) UserCommand {
	uc := UserCommand{
		Trigger:       c.Trigger,
		Args:          []string{},
		CommandSender: sender,
		SenderRoles:   roles,
	}
	if uc.SenderRoles == nil {
		uc.SenderRoles = []string{}
	}
	if raw == "" {
		return uc
	}
	words := strings.Fields(raw)
	if c.ScanWholeMessage {
		uc.Args = words
		return uc
	}
	if len(words) > 0 {
		uc.Trigger = words[0]
		uc.Args = append(uc.Args, words[1:]...)
	}
	return uc
}

// NewUserCommand builds the user command for msg and resolves its
// sub-command.
func NewUserCommand(c Command, msg chat.Message) (UserCommand, *SubCommand) {
	uc := BuildUserCommand(c, msg.Text, msg.Username, msg.Roles)
	sub, ok := ResolveSubCommand(c, uc.Args)
	if !ok {
		return uc, nil
	}
	uc.TriggeredArg = sub.Arg
	uc.SubcommandID = sub.ID
	return uc, &sub
}
