// Package notify delivers workflow messages to the chat frontend that
// created an execution. The console notifier is the default; Telegram is
// enabled when a bot token is configured.
package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/google/uuid"
)

// ConsoleNotifier writes messages to a writer, one line per message.
// Used when no chat provider is configured and in tests.
type ConsoleNotifier struct {
	mu  sync.Mutex
	out io.Writer
}

// NewConsoleNotifier writes to out, defaulting to stdout.
func NewConsoleNotifier(out io.Writer) *ConsoleNotifier {
	if out == nil {
		out = os.Stdout
	}
	return &ConsoleNotifier{out: out}
}

// Send prints the message and returns a synthetic message id.
func (n *ConsoleNotifier) Send(ctx context.Context, chatID, text string) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, err := fmt.Fprintf(n.out, "[chat %s] %s\n", chatID, text); err != nil {
		return "", err
	}
	return uuid.NewString(), nil
}
