// Package channels hosts conversation transports that sit in front of
// the negotiation engine. Each chat keeps its own session, so several
// debtors can negotiate in parallel over the same bot.
package channels

import (
	"context"
	"fmt"
	"strings"
)

type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	IsRunning() bool
	IsAllowed(senderID string) bool
}

// Responder produces the reply for one inbound message. The session id
// is "<channel>:<chatID>", so the same debtor continues their
// negotiation across messages while other chats stay isolated.
type Responder func(ctx context.Context, sessionID, message string) (string, error)

type BaseChannel struct {
	name      string
	allowList []string
	running   bool
	respond   Responder
}

func NewBaseChannel(name string, allowList []string, respond Responder) *BaseChannel {
	return &BaseChannel{
		name:      name,
		allowList: allowList,
		respond:   respond,
	}
}

func (c *BaseChannel) Name() string {
	return c.name
}

func (c *BaseChannel) IsRunning() bool {
	return c.running
}

// IsAllowed checks the sender against the allow-list. An empty list
// admits everyone. Entries match the raw sender id, the id part or the
// username part of a compound "123456|username" id.
func (c *BaseChannel) IsAllowed(senderID string) bool {
	if len(c.allowList) == 0 {
		return true
	}

	idPart := senderID
	userPart := ""
	if idx := strings.Index(senderID, "|"); idx > 0 {
		idPart = senderID[:idx]
		userPart = senderID[idx+1:]
	}

	for _, allowed := range c.allowList {
		candidate := strings.TrimSpace(strings.TrimPrefix(allowed, "@"))
		if candidate == "" {
			continue
		}
		if candidate == senderID || candidate == idPart || (userPart != "" && candidate == userPart) {
			return true
		}
	}

	return false
}

// SessionKey derives the session id for a chat on this channel.
func (c *BaseChannel) SessionKey(chatID string) string {
	return fmt.Sprintf("%s:%s", c.name, chatID)
}

func (c *BaseChannel) setRunning(running bool) {
	c.running = running
}
