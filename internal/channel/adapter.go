// Package channel defines the chat-surface adapter contract and the
// registry the application wires adapters into.
package channel

import (
	"context"
	"strings"
)

// Type identifies a chat platform.
type Type string

func (t Type) String() string { return string(t) }

// Capabilities declares which history sources and delivery features a
// platform supports. The pipeline consumes only what the adapter declares.
type Capabilities struct {
	// ReplyChain: replied-to messages can be resolved by id.
	ReplyChain bool
	// ChannelHistory: ambient history preceding a trigger can be fetched.
	ChannelHistory bool
	// Attachments: generated artifacts can be delivered as files.
	Attachments bool
}

// Descriptor holds read-only metadata for a registered adapter.
type Descriptor struct {
	Type         Type
	DisplayName  string
	Capabilities Capabilities
}

// Adapter is a long-lived connection to one chat platform. Connect blocks
// only for session setup; inbound handling runs on the platform library's
// own goroutines until Stop.
type Adapter interface {
	Type() Type
	Descriptor() Descriptor
	Connect(ctx context.Context) error
	Stop(ctx context.Context) error
}

// NormalizeType lowercases and trims a raw channel type string.
func NormalizeType(raw string) Type {
	return Type(strings.TrimSpace(strings.ToLower(raw)))
}
