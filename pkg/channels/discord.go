package channels

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/cobrance/lucia/pkg/batch"
	"github.com/cobrance/lucia/pkg/config"
	"github.com/cobrance/lucia/pkg/logger"
	"github.com/cobrance/lucia/pkg/providers"
)

const (
	sendTimeout           = 10 * time.Second
	typingRefreshInterval = 8 * time.Second

	// Messenger users often type across several bubbles; the batching
	// window absorbs that, so a turn can take well over the debounce
	// window to resolve.
	respondTimeout = 2 * time.Minute

	discordOverloadedReply = "Estamos com alta demanda no momento. Por favor, aguarde alguns instantes e envie sua mensagem novamente. 🙏"
)

// DiscordChannel bridges Discord chats into the negotiation engine. Each
// Discord channel id maps to one session, and replies longer than the
// platform limit are split on natural boundaries.
type DiscordChannel struct {
	*BaseChannel
	session  *discordgo.Session
	config   config.DiscordConfig
	typing   map[string]*typingSession
	typingMu sync.Mutex
}

type typingSession struct {
	pending int
	cancel  context.CancelFunc
}

func NewDiscordChannel(cfg config.DiscordConfig, respond Responder) (*DiscordChannel, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}

	return &DiscordChannel{
		BaseChannel: NewBaseChannel("discord", cfg.AllowFrom, respond),
		session:     session,
		config:      cfg,
		typing:      make(map[string]*typingSession),
	}, nil
}

func (c *DiscordChannel) Start(ctx context.Context) error {
	logger.InfoC("discord", "starting Discord bot")

	c.session.AddHandler(c.handleMessage)

	if err := c.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}

	c.setRunning(true)

	botUser, err := c.session.User("@me")
	if err != nil {
		return fmt.Errorf("get bot user: %w", err)
	}
	logger.InfoCF("discord", "Discord bot connected", map[string]any{
		"username": botUser.Username,
		"user_id":  botUser.ID,
	})

	return nil
}

func (c *DiscordChannel) Stop(ctx context.Context) error {
	logger.InfoC("discord", "stopping Discord bot")
	c.setRunning(false)
	c.stopAllTyping()

	if err := c.session.Close(); err != nil {
		return fmt.Errorf("close discord session: %w", err)
	}

	return nil
}

func (c *DiscordChannel) handleMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m == nil || m.Author == nil {
		return
	}
	if m.Author.ID == s.State.User.ID || m.Author.Bot {
		return
	}

	if !c.IsAllowed(m.Author.ID + "|" + m.Author.Username) {
		logger.DebugCF("discord", "message rejected by allowlist", map[string]any{"user_id": m.Author.ID})
		return
	}

	content := strings.TrimSpace(m.Content)
	if content == "" {
		return
	}

	c.beginTyping(m.ChannelID)

	go func() {
		defer c.endTyping(m.ChannelID)

		ctx, cancel := context.WithTimeout(context.Background(), respondTimeout)
		defer cancel()

		reply, err := c.respond(ctx, c.SessionKey(m.ChannelID), content)
		if err != nil {
			switch {
			case errors.Is(err, batch.ErrSessionTerminated):
				// Session was cleared while this message waited in a
				// batch; the next message starts fresh.
				return
			case errors.Is(err, providers.ErrOverloaded):
				reply = discordOverloadedReply
			default:
				logger.ErrorCF("discord", "message processing failed", map[string]any{
					"channel_id": m.ChannelID,
					"error":      err,
				})
				return
			}
		}

		if err := c.deliver(ctx, m.ChannelID, reply); err != nil {
			logger.ErrorCF("discord", "reply delivery failed", map[string]any{
				"channel_id": m.ChannelID,
				"error":      err,
			})
		}
	}()
}

func (c *DiscordChannel) deliver(ctx context.Context, channelID, content string) error {
	if !c.IsRunning() {
		return fmt.Errorf("discord bot not running")
	}
	if content == "" {
		return nil
	}

	for _, chunk := range splitMessage(content, 1900) {
		if err := c.sendChunk(ctx, channelID, chunk); err != nil {
			return err
		}
	}
	return nil
}

// splitMessage breaks a long reply into chunks under limit, preferring a
// newline and then a space near the cut point. Discord caps messages at
// 2000 characters.
func splitMessage(content string, limit int) []string {
	var messages []string

	for len(content) > 0 {
		if len(content) <= limit {
			messages = append(messages, content)
			break
		}

		cut := findLastBreak(content[:limit], '\n', 200)
		if cut <= 0 {
			cut = findLastBreak(content[:limit], ' ', 100)
		}
		if cut <= 0 {
			cut = limit
		}

		messages = append(messages, content[:cut])
		content = strings.TrimSpace(content[cut:])
	}

	return messages
}

// findLastBreak looks for the last occurrence of sep within the final
// searchWindow bytes of s.
func findLastBreak(s string, sep byte, searchWindow int) int {
	searchStart := len(s) - searchWindow
	if searchStart < 0 {
		searchStart = 0
	}
	for i := len(s) - 1; i >= searchStart; i-- {
		if s[i] == sep {
			return i
		}
	}
	return -1
}

func (c *DiscordChannel) sendChunk(ctx context.Context, channelID, content string) error {
	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := c.session.ChannelMessageSend(channelID, content)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("send discord message: %w", err)
		}
		return nil
	case <-sendCtx.Done():
		return fmt.Errorf("send message timeout: %w", sendCtx.Err())
	}
}

func (c *DiscordChannel) sendTyping(channelID string) {
	if channelID == "" || c.session == nil {
		return
	}
	if err := c.session.ChannelTyping(channelID); err != nil {
		logger.DebugCF("discord", "typing indicator failed", map[string]any{"error": err.Error()})
	}
}

// beginTyping keeps the typing indicator alive while a turn is being
// processed; concurrent messages for the same chat share one keepalive.
func (c *DiscordChannel) beginTyping(channelID string) {
	if channelID == "" {
		return
	}

	c.typingMu.Lock()
	if sess, ok := c.typing[channelID]; ok {
		sess.pending++
		c.typingMu.Unlock()
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.typing[channelID] = &typingSession{pending: 1, cancel: cancel}
	c.typingMu.Unlock()

	c.sendTyping(channelID)

	go func() {
		ticker := time.NewTicker(typingRefreshInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !c.IsRunning() {
					return
				}
				c.sendTyping(channelID)
			}
		}
	}()
}

func (c *DiscordChannel) endTyping(channelID string) {
	if channelID == "" {
		return
	}

	c.typingMu.Lock()
	defer c.typingMu.Unlock()

	sess, ok := c.typing[channelID]
	if !ok {
		return
	}
	sess.pending--
	if sess.pending > 0 {
		return
	}
	delete(c.typing, channelID)
	sess.cancel()
}

func (c *DiscordChannel) stopAllTyping() {
	c.typingMu.Lock()
	defer c.typingMu.Unlock()

	for channelID, sess := range c.typing {
		sess.cancel()
		delete(c.typing, channelID)
	}
}
