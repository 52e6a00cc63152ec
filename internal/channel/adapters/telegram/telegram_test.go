package telegram

import (
	"context"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

func TestReplyFetcherServesEmbeddedMessageOnly(t *testing.T) {
	t.Parallel()
	embedded := &tgbotapi.Message{
		MessageID: 42,
		Text:      "earlier question",
		Date:      int(time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC).Unix()),
		From:      &tgbotapi.User{ID: 7, FirstName: "Pat"},
	}
	f := &replyFetcher{botID: 99, embedded: embedded}

	ref, err := f.FetchReferencedMessage(context.Background(), "42")
	if err != nil {
		t.Fatalf("FetchReferencedMessage: %v", err)
	}
	if ref.Content != "earlier question" || ref.AuthorName != "Pat" {
		t.Fatalf("ref = %+v", ref)
	}
	if ref.FromAssistant {
		t.Fatal("human message marked as assistant")
	}
	// The chain ends after depth one: the embedded message's own parent is
	// never resolvable.
	if _, err := f.FetchReferencedMessage(context.Background(), "41"); err == nil {
		t.Fatal("unexpected resolution beyond the embedded message")
	}
}

func TestReplyFetcherMarksBotMessages(t *testing.T) {
	t.Parallel()
	embedded := &tgbotapi.Message{
		MessageID: 8,
		Text:      "here is your forecast",
		From:      &tgbotapi.User{ID: 99, IsBot: true, FirstName: "Courier"},
	}
	f := &replyFetcher{botID: 99, embedded: embedded}

	ref, err := f.FetchReferencedMessage(context.Background(), "8")
	if err != nil {
		t.Fatalf("FetchReferencedMessage: %v", err)
	}
	if !ref.FromAssistant {
		t.Fatal("bot message not marked as assistant")
	}
}

func TestAuthorName(t *testing.T) {
	t.Parallel()
	if got := authorName(&tgbotapi.User{FirstName: "Pat", LastName: "Lee"}); got != "Pat Lee" {
		t.Fatalf("authorName = %q", got)
	}
	if got := authorName(&tgbotapi.User{UserName: "plee"}); got != "plee" {
		t.Fatalf("authorName = %q", got)
	}
	if got := authorName(nil); got != "" {
		t.Fatalf("authorName(nil) = %q", got)
	}
}
