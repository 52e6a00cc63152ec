package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/courierdev/courier/internal/conversation"
)

// historyFetcher adapts one channel's Discord API access to the context
// assembler's fetcher contracts.
type historyFetcher struct {
	session   *discordgo.Session
	channelID string
	botID     string
	inThread  bool
}

func (h *historyFetcher) FetchReferencedMessage(_ context.Context, id string) (conversation.ReferencedMessage, error) {
	msg, err := h.session.ChannelMessage(h.channelID, id)
	if err != nil {
		return conversation.ReferencedMessage{}, fmt.Errorf("fetch message %s: %w", id, err)
	}
	return conversation.ReferencedMessage{
		ID:            msg.ID,
		ReplyToID:     messageReplyTo(msg),
		AuthorID:      authorID(msg),
		AuthorName:    displayName(msg.Author),
		Content:       msg.Content,
		CreatedAt:     msg.Timestamp,
		FromAssistant: authorID(msg) == h.botID,
	}, nil
}

func (h *historyFetcher) FetchChannelHistory(_ context.Context, beforeID string, limit int) ([]conversation.HistoryMessage, error) {
	msgs, err := h.session.ChannelMessages(h.channelID, limit, beforeID, "", "")
	if err != nil {
		return nil, fmt.Errorf("fetch history before %s: %w", beforeID, err)
	}
	out := make([]conversation.HistoryMessage, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, conversation.HistoryMessage{
			ID:            msg.ID,
			AuthorID:      authorID(msg),
			AuthorName:    displayName(msg.Author),
			Content:       msg.Content,
			CreatedAt:     msg.Timestamp,
			FromAssistant: authorID(msg) == h.botID,
			InThread:      h.inThread,
		})
	}
	return out, nil
}

func authorID(m *discordgo.Message) string {
	if m.Author == nil {
		return ""
	}
	return m.Author.ID
}

func messageReplyTo(m *discordgo.Message) string {
	if m.MessageReference != nil {
		return m.MessageReference.MessageID
	}
	return ""
}
