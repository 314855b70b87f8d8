package stdio

import (
	"context"

	"github.com/swyddfa/lsp-devtools/api"
)

// MessageHandler receives a copy of every message that crosses the proxy.
// Calls happen on a single goroutine in the order messages were captured.
type MessageHandler interface {
	HandleMessage(ctx context.Context, m *api.CapturedMessage)
}

// HandlerFunc adapts a plain function to MessageHandler.
type HandlerFunc func(ctx context.Context, m *api.CapturedMessage)

func (f HandlerFunc) HandleMessage(ctx context.Context, m *api.CapturedMessage) { f(ctx, m) }
