// Package notify forwards selected venue events to operator chat channels
// (Telegram, Discord). Events are filtered by kind so operators receive only
// the alerts they care about.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/alanyoungcy/tradevenue/internal/domain"
)

// Field is one labelled value of a Message.
type Field struct {
	Name  string
	Value string
}

// Message is a rendered venue event.
type Message struct {
	Kind     domain.EventKind
	Title    string
	Resource string
	Fields   []Field // sorted by Name
}

// NewMessage renders evt. Attributes become fields in key order.
func NewMessage(evt domain.Event) Message {
	m := Message{
		Kind:     evt.Kind,
		Title:    strings.ReplaceAll(string(evt.Kind), "_", " "),
		Resource: evt.Resource,
		Fields:   make([]Field, 0, len(evt.Attrs)),
	}
	for k, v := range evt.Attrs {
		m.Fields = append(m.Fields, Field{Name: k, Value: v})
	}
	sort.Slice(m.Fields, func(i, j int) bool { return m.Fields[i].Name < m.Fields[j].Name })
	return m
}

// Sender is the interface that each notification channel must implement.
type Sender interface {
	Send(ctx context.Context, msg Message) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Notifier dispatches events to one or more Senders. Only kinds in the
// allowed set are forwarded; an empty set allows every kind.
type Notifier struct {
	senders []Sender
	kinds   map[domain.EventKind]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier that will deliver to the given senders.
func NewNotifier(senders []Sender, kinds []string, logger *slog.Logger) *Notifier {
	allowed := make(map[domain.EventKind]bool, len(kinds))
	for _, k := range kinds {
		allowed[domain.EventKind(strings.TrimSpace(k))] = true
	}
	return &Notifier{
		senders: senders,
		kinds:   allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Publish implements domain.EventPublisher so the notifier can sit in the
// event fanout.
func (n *Notifier) Publish(ctx context.Context, evt domain.Event) error {
	if len(n.kinds) > 0 && !n.kinds[evt.Kind] {
		return nil
	}
	return n.dispatch(ctx, NewMessage(evt))
}

// dispatch delivers msg to every sender. A single sender failure does not
// prevent delivery to the rest; failures are combined into one error.
func (n *Notifier) dispatch(ctx context.Context, msg Message) error {
	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, msg); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("kind", string(msg.Kind)),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("kind", string(msg.Kind)),
		)
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}

// Compile-time interface check.
var _ domain.EventPublisher = (*Notifier)(nil)
