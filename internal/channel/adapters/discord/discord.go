// Package discord connects the routing pipeline to Discord: mention and DM
// intake, history access for the context assembler, and reply delivery with
// image attachments.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"

	"github.com/courierdev/courier/internal/backend"
	"github.com/courierdev/courier/internal/channel"
	"github.com/courierdev/courier/internal/conversation"
	"github.com/courierdev/courier/internal/flow"
	"github.com/courierdev/courier/internal/storage"
)

// Type is the registry key for this adapter.
const Type = channel.Type("discord")

const maxMessageLen = 2000

const genericErrorText = "Sorry, something went wrong handling that. Please try again in a bit."

// Adapter is the Discord surface. One adapter owns one bot session.
type Adapter struct {
	logger   *slog.Logger
	token    string
	resolver *flow.Resolver
	store    *storage.ArtifactStore
	limiter  *flow.ErrorLimiter

	session *discordgo.Session
	remove  func()
}

// New creates the adapter. store may be nil when image delivery is not
// configured; generated artifacts are then announced by caption only.
func New(log *slog.Logger, token string, resolver *flow.Resolver, store *storage.ArtifactStore) (*Adapter, error) {
	if log == nil {
		log = slog.Default()
	}
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("discord bot token is required")
	}
	if resolver == nil {
		return nil, fmt.Errorf("resolver is required")
	}
	return &Adapter{
		logger:   log.With(slog.String("adapter", "discord")),
		token:    token,
		resolver: resolver,
		store:    store,
		limiter:  flow.NewErrorLimiter(30*time.Second, nil),
	}, nil
}

func (a *Adapter) Type() channel.Type { return Type }

func (a *Adapter) Descriptor() channel.Descriptor {
	return channel.Descriptor{
		Type:        Type,
		DisplayName: "Discord",
		Capabilities: channel.Capabilities{
			ReplyChain:     true,
			ChannelHistory: true,
			Attachments:    true,
		},
	}
}

// Connect opens the gateway session and installs the message handler.
func (a *Adapter) Connect(ctx context.Context) error {
	session, err := discordgo.New("Bot " + a.token)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	a.remove = session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if ctx.Err() != nil {
			return
		}
		a.onMessage(ctx, s, m)
	})

	if err := session.Open(); err != nil {
		return fmt.Errorf("open gateway: %w", err)
	}
	a.session = session
	a.logger.Info("connected", slog.String("bot_id", session.State.User.ID))
	return nil
}

// Stop removes the handler and closes the gateway session.
func (a *Adapter) Stop(_ context.Context) error {
	if a.remove != nil {
		a.remove()
		a.remove = nil
	}
	if a.session != nil {
		err := a.session.Close()
		a.session = nil
		return err
	}
	return nil
}

// onMessage is the inbound entry point: mentions in guild channels, any
// message in DMs.
func (a *Adapter) onMessage(ctx context.Context, s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	isDirect := m.GuildID == ""
	if !isDirect && !mentionsBot(m.Message, s.State.User.ID) {
		return
	}

	text := stripMention(m.Content, s.State.User.ID)
	inThread := a.isThread(s, m.ChannelID)

	fetcher := &historyFetcher{session: s, channelID: m.ChannelID, botID: s.State.User.ID, inThread: inThread}
	req := flow.Request{
		Requester: m.Author.Username,
		Text:      text,
		Trigger: conversation.Trigger{
			MessageID:  m.ID,
			ReplyToID:  referencedID(m.Message),
			AuthorID:   m.Author.ID,
			AuthorName: displayName(m.Author),
			InThread:   inThread,
			IsDirect:   isDirect,
		},
		Sources: conversation.Sources{
			ReplyChain:     referencedID(m.Message) != "",
			ChannelHistory: true,
		},
		Assembler: conversation.NewAssembler(a.logger, fetcher, fetcher),
	}

	out, err := a.resolver.HandleRequest(ctx, req)
	if err != nil {
		a.logger.Warn("request failed",
			slog.String("message_id", m.ID),
			slog.Any("error", err))
		if a.limiter.Allow() {
			a.sendText(s, m, genericErrorText)
		}
		return
	}
	a.deliver(ctx, s, m, out)
}

// deliver sends the outcome back to the triggering channel, attaching the
// stored image when the result carries one.
func (a *Adapter) deliver(ctx context.Context, s *discordgo.Session, m *discordgo.MessageCreate, out flow.Outcome) {
	if out.Result.Kind == backend.KindImage && out.Result.Image != nil && a.store != nil {
		artifact := out.Result.Image
		reader, err := a.store.Open(ctx, artifact.StorageKey)
		if err != nil {
			a.logger.Warn("artifact open failed", slog.String("key", artifact.StorageKey), slog.Any("error", err))
			a.sendText(s, m, out.Response)
			return
		}
		defer reader.Close()
		_, err = s.ChannelMessageSendComplex(m.ChannelID, &discordgo.MessageSend{
			Content:   truncate(artifact.Caption),
			Files:     []*discordgo.File{{Name: artifact.StorageKey, ContentType: artifact.Mime, Reader: reader}},
			Reference: m.Reference(),
		})
		if err != nil {
			a.logger.Warn("attachment send failed", slog.Any("error", err))
		}
		return
	}
	a.sendText(s, m, out.Response)
}

func (a *Adapter) sendText(s *discordgo.Session, m *discordgo.MessageCreate, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	if _, err := s.ChannelMessageSendReply(m.ChannelID, truncate(text), m.Reference()); err != nil {
		a.logger.Warn("reply send failed", slog.Any("error", err))
	}
}

func (a *Adapter) isThread(s *discordgo.Session, channelID string) bool {
	ch, err := s.State.Channel(channelID)
	if err != nil {
		ch, err = s.Channel(channelID)
		if err != nil {
			return false
		}
	}
	return ch.IsThread()
}

func mentionsBot(m *discordgo.Message, botID string) bool {
	for _, user := range m.Mentions {
		if user != nil && user.ID == botID {
			return true
		}
	}
	return false
}

// stripMention removes the leading bot mention from trigger text.
func stripMention(content, botID string) string {
	for _, form := range []string{"<@" + botID + ">", "<@!" + botID + ">"} {
		content = strings.ReplaceAll(content, form, "")
	}
	return strings.TrimSpace(content)
}

func referencedID(m *discordgo.Message) string {
	if m.MessageReference != nil {
		return m.MessageReference.MessageID
	}
	return ""
}

func displayName(u *discordgo.User) string {
	if u == nil {
		return ""
	}
	if u.GlobalName != "" {
		return u.GlobalName
	}
	return u.Username
}

// truncate enforces Discord's message limit, which counts characters, not
// bytes; cutting on a rune boundary keeps multibyte text intact.
func truncate(text string) string {
	if utf8.RuneCountInString(text) <= maxMessageLen {
		return text
	}
	runes := []rune(text)
	return string(runes[:maxMessageLen-1]) + "…"
}
