package automation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/powhq/pow/internal/models"
)

// ActionType names an action in a rule's stored action list.
type ActionType string

const (
	ActionDiscordMessage ActionType = "DISCORD_MESSAGE"
	ActionDiscordDM      ActionType = "DISCORD_DM"
	ActionDiscordRoleAdd ActionType = "DISCORD_ROLE_ADD"
	ActionLogEntry       ActionType = "LOG_ENTRY"
	ActionShiftLog       ActionType = "SHIFT_LOG"
	ActionWarnPlayer     ActionType = "WARN_PLAYER"
	ActionPRCCommand     ActionType = "PRC_COMMAND"
	ActionKickPlayer     ActionType = "KICK_PLAYER"
	ActionBanPlayer      ActionType = "BAN_PLAYER"
	ActionAnnouncement   ActionType = "ANNOUNCEMENT"
	ActionTeleportPlayer ActionType = "TELEPORT_PLAYER"
	ActionKillPlayer     ActionType = "KILL_PLAYER"
	ActionHTTPRequest    ActionType = "HTTP_REQUEST"
	ActionDelay          ActionType = "DELAY"
)

const (
	defaultDelay = time.Second
	maxDelay     = 30 * time.Second
)

// storedAction is the persisted shape of an action.
type storedAction struct {
	Type    ActionType `json:"type"`
	Content string     `json:"content"`
	Target  string     `json:"target"`
}

// Action is one step of a rule. The set of implementations is closed; the
// engine switches over them exhaustively.
type Action interface {
	isAction()
}

// SendMessage posts to a chat channel through the outbound queue.
type SendMessage struct {
	ChannelID string
	Content   string
}

// SendDirectMessage messages a chat user through the outbound queue.
type SendDirectMessage struct {
	UserID  string
	Content string
}

// GrantRole adds a chat role to a user through the outbound queue.
type GrantRole struct {
	UserID string
	RoleID string
}

// AppendLog writes an audit log entry.
type AppendLog struct {
	Kind    models.AuditKind
	Content string
}

// WarnPlayer records a resolved warning against the event's player.
type WarnPlayer struct {
	Reason string
}

// CommandVerb selects how a remote command is built.
type CommandVerb int

const (
	VerbRaw CommandVerb = iota
	VerbKick
	VerbBan
	VerbAnnounce
	VerbTeleport
	VerbKill
)

// RemoteCommand executes a game-server command.
type RemoteCommand struct {
	Verb    CommandVerb
	Content string
	Target  string
}

// Webhook POSTs a JSON body to an external URL.
type Webhook struct {
	URL  string
	Body string
}

// Delay pauses the rule's remaining actions.
type Delay struct {
	Content string
}

func (SendMessage) isAction()       {}
func (SendDirectMessage) isAction() {}
func (GrantRole) isAction()         {}
func (AppendLog) isAction()         {}
func (WarnPlayer) isAction()        {}
func (RemoteCommand) isAction()     {}
func (Webhook) isAction()           {}
func (Delay) isAction()             {}

// ParseActions decodes a stored action list into actions whose text fields
// still contain placeholders. Unknown action types are dropped.
func ParseActions(raw json.RawMessage) ([]Action, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	var stored []storedAction
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, fmt.Errorf("%w: actions: %v", ErrMalformedRule, err)
	}

	actions := make([]Action, 0, len(stored))
	for _, s := range stored {
		if a := s.decode(); a != nil {
			actions = append(actions, a)
		}
	}
	return actions, nil
}

func (s storedAction) decode() Action {
	switch s.Type {
	case ActionDiscordMessage:
		return SendMessage{ChannelID: s.Target, Content: s.Content}
	case ActionDiscordDM:
		return SendDirectMessage{UserID: s.Target, Content: s.Content}
	case ActionDiscordRoleAdd:
		return GrantRole{UserID: s.Target, RoleID: s.Content}
	case ActionLogEntry:
		return AppendLog{Kind: models.AuditAutomation, Content: s.Content}
	case ActionShiftLog:
		return AppendLog{Kind: models.AuditShift, Content: s.Content}
	case ActionWarnPlayer:
		return WarnPlayer{Reason: s.Content}
	case ActionPRCCommand:
		return RemoteCommand{Verb: VerbRaw, Content: s.Content, Target: s.Target}
	case ActionKickPlayer:
		return RemoteCommand{Verb: VerbKick, Content: s.Content, Target: s.Target}
	case ActionBanPlayer:
		return RemoteCommand{Verb: VerbBan, Content: s.Content, Target: s.Target}
	case ActionAnnouncement:
		return RemoteCommand{Verb: VerbAnnounce, Content: s.Content, Target: s.Target}
	case ActionTeleportPlayer:
		return RemoteCommand{Verb: VerbTeleport, Content: s.Content, Target: s.Target}
	case ActionKillPlayer:
		return RemoteCommand{Verb: VerbKill, Content: s.Content, Target: s.Target}
	case ActionHTTPRequest:
		return Webhook{URL: s.Target, Body: s.Content}
	case ActionDelay:
		return Delay{Content: s.Content}
	}
	return nil
}

// Build renders the game command text for a remote command. playerRef is the
// event player's id, or name when no id is known.
func (c RemoteCommand) Build(playerRef string) string {
	pid := playerRef
	if strings.Contains(pid, " ") {
		pid = `"` + pid + `"`
	}
	switch c.Verb {
	case VerbKick:
		return ":kick " + pid + " " + c.Content
	case VerbBan:
		return ":ban " + pid + " " + c.Content
	case VerbAnnounce:
		return ":m " + c.Content
	case VerbTeleport:
		return ":tp " + pid + " " + c.Target
	case VerbKill:
		return ":kill " + pid
	}
	return c.Content
}

// NeedsPlayer reports whether the command targets the event's player.
func (c RemoteCommand) NeedsPlayer() bool {
	switch c.Verb {
	case VerbKick, VerbBan, VerbTeleport, VerbKill:
		return true
	}
	return false
}

// Duration parses the delay in milliseconds, defaulting to one second.
func (d Delay) Duration() time.Duration {
	ms, err := strconv.Atoi(strings.TrimSpace(d.Content))
	if err != nil || ms <= 0 {
		return defaultDelay
	}
	if dur := time.Duration(ms) * time.Millisecond; dur < maxDelay {
		return dur
	}
	return maxDelay
}
