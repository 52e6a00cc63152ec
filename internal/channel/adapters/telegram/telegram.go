// Package telegram connects the routing pipeline to Telegram private chats.
// Telegram's update payload embeds at most the directly replied-to message,
// so the adapter declares a reply chain of depth one and no ambient history.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/courierdev/courier/internal/backend"
	"github.com/courierdev/courier/internal/channel"
	"github.com/courierdev/courier/internal/conversation"
	"github.com/courierdev/courier/internal/flow"
	"github.com/courierdev/courier/internal/storage"
)

// Type is the registry key for this adapter.
const Type = channel.Type("telegram")

const genericErrorText = "Sorry, something went wrong handling that. Please try again in a bit."

// Adapter is the Telegram surface.
type Adapter struct {
	logger   *slog.Logger
	token    string
	resolver *flow.Resolver
	store    *storage.ArtifactStore
	limiter  *flow.ErrorLimiter

	bot  *tgbotapi.BotAPI
	done chan struct{}
}

func New(log *slog.Logger, token string, resolver *flow.Resolver, store *storage.ArtifactStore) (*Adapter, error) {
	if log == nil {
		log = slog.Default()
	}
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("telegram bot token is required")
	}
	if resolver == nil {
		return nil, fmt.Errorf("resolver is required")
	}
	return &Adapter{
		logger:   log.With(slog.String("adapter", "telegram")),
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
		DisplayName: "Telegram",
		Capabilities: channel.Capabilities{
			// Depth one only: the update payload embeds just the directly
			// replied-to message.
			ReplyChain:     true,
			ChannelHistory: false,
			Attachments:    true,
		},
	}
}

// Connect starts long polling on a background goroutine.
func (a *Adapter) Connect(ctx context.Context) error {
	bot, err := tgbotapi.NewBotAPI(a.token)
	if err != nil {
		return fmt.Errorf("create bot: %w", err)
	}
	a.bot = bot
	a.done = make(chan struct{})

	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = 30
	updates := bot.GetUpdatesChan(cfg)

	go func() {
		defer close(a.done)
		for update := range updates {
			if ctx.Err() != nil {
				return
			}
			if update.Message == nil || update.Message.From == nil || update.Message.From.IsBot {
				continue
			}
			a.onMessage(ctx, update.Message)
		}
	}()

	a.logger.Info("connected", slog.String("bot", bot.Self.UserName))
	return nil
}

// Stop ends long polling and waits for the update loop to drain.
func (a *Adapter) Stop(ctx context.Context) error {
	if a.bot == nil {
		return nil
	}
	a.bot.StopReceivingUpdates()
	select {
	case <-a.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	a.bot = nil
	return nil
}

func (a *Adapter) onMessage(ctx context.Context, m *tgbotapi.Message) {
	req := flow.Request{
		Requester: m.From.UserName,
		Text:      strings.TrimSpace(m.Text),
		Trigger: conversation.Trigger{
			MessageID:  strconv.Itoa(m.MessageID),
			ReplyToID:  replyToID(m),
			AuthorID:   strconv.FormatInt(m.From.ID, 10),
			AuthorName: authorName(m.From),
			IsDirect:   true,
		},
		Sources: conversation.Sources{
			ReplyChain: m.ReplyToMessage != nil,
		},
		Assembler: conversation.NewAssembler(a.logger, &replyFetcher{botID: a.bot.Self.ID, embedded: m.ReplyToMessage}, nil),
	}

	out, err := a.resolver.HandleRequest(ctx, req)
	if err != nil {
		a.logger.Warn("request failed",
			slog.Int("message_id", m.MessageID),
			slog.Any("error", err))
		if a.limiter.Allow() {
			a.sendText(m, genericErrorText)
		}
		return
	}
	a.deliver(ctx, m, out)
}

func (a *Adapter) deliver(ctx context.Context, m *tgbotapi.Message, out flow.Outcome) {
	if out.Result.Kind == backend.KindImage && out.Result.Image != nil && a.store != nil {
		artifact := out.Result.Image
		reader, err := a.store.Open(ctx, artifact.StorageKey)
		if err != nil {
			a.logger.Warn("artifact open failed", slog.String("key", artifact.StorageKey), slog.Any("error", err))
			a.sendText(m, out.Response)
			return
		}
		defer reader.Close()
		photo := tgbotapi.NewPhoto(m.Chat.ID, tgbotapi.FileReader{Name: artifact.StorageKey, Reader: reader})
		photo.Caption = artifact.Caption
		photo.ReplyToMessageID = m.MessageID
		if _, err := a.bot.Send(photo); err != nil {
			a.logger.Warn("photo send failed", slog.Any("error", err))
		}
		return
	}
	a.sendText(m, out.Response)
}

func (a *Adapter) sendText(m *tgbotapi.Message, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	msg := tgbotapi.NewMessage(m.Chat.ID, text)
	msg.ReplyToMessageID = m.MessageID
	if _, err := a.bot.Send(msg); err != nil {
		a.logger.Warn("reply send failed", slog.Any("error", err))
	}
}

// replyFetcher serves the single reply-chain link the update payload
// embeds. Any other id is unresolvable, which ends traversal gracefully.
type replyFetcher struct {
	botID    int64
	embedded *tgbotapi.Message
}

func (f *replyFetcher) FetchReferencedMessage(_ context.Context, id string) (conversation.ReferencedMessage, error) {
	if f.embedded == nil || strconv.Itoa(f.embedded.MessageID) != id {
		return conversation.ReferencedMessage{}, fmt.Errorf("message %s not in update payload", id)
	}
	m := f.embedded
	ref := conversation.ReferencedMessage{
		ID:        id,
		Content:   m.Text,
		CreatedAt: time.Unix(int64(m.Date), 0).UTC(),
	}
	if m.From != nil {
		ref.AuthorID = strconv.FormatInt(m.From.ID, 10)
		ref.AuthorName = authorName(m.From)
		ref.FromAssistant = m.From.ID == f.botID
	}
	return ref, nil
}

func replyToID(m *tgbotapi.Message) string {
	if m.ReplyToMessage == nil {
		return ""
	}
	return strconv.Itoa(m.ReplyToMessage.MessageID)
}

func authorName(u *tgbotapi.User) string {
	if u == nil {
		return ""
	}
	if u.FirstName != "" {
		return strings.TrimSpace(u.FirstName + " " + u.LastName)
	}
	return u.UserName
}
