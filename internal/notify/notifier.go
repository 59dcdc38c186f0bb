// Package notify forwards auction lifecycle events to operator chat
// channels (Telegram, Discord). Each channel is a Sender; the Notifier
// filters by event type and fans out to every sender.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

// Event types accepted by the notify.events filter.
const (
	TypeAuctionCreated = "auction_created"
	TypeAuctionEnded   = "auction_ended"
	TypeFundsWithdrawn = "funds_withdrawn"
)

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier dispatches notifications to every Sender. Notify forwards only
// event types in the allowed set; an empty set allows everything.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier delivering to senders.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify sends title and message if event passes the filter.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// NotifyEvent renders a contract event and sends it. Event kinds with no
// operator-facing meaning are ignored.
func (n *Notifier) NotifyEvent(ctx context.Context, ev domain.Event) error {
	typ, title, message, ok := render(ev)
	if !ok {
		return nil
	}
	return n.Notify(ctx, typ, title, message)
}

func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}

func render(ev domain.Event) (typ, title, message string, ok bool) {
	switch ev.Kind {
	case domain.EventAuctionCreated:
		return TypeAuctionCreated, "Auction created",
			fmt.Sprintf("%q at %s by %s, bidding open for %ds",
				ev.Item, ev.Auction.Hex(), ev.Account.Hex(), ev.DurationSeconds), true
	case domain.EventAuctionEnded:
		if isZero(ev.Amount) {
			return TypeAuctionEnded, "Auction ended",
				fmt.Sprintf("%s ended without bids", ev.Auction.Hex()), true
		}
		return TypeAuctionEnded, "Auction ended",
			fmt.Sprintf("%s won by %s for %s wei", ev.Auction.Hex(), ev.Account.Hex(), ev.Amount), true
	case domain.EventFundsWithdrawn:
		return TypeFundsWithdrawn, "Funds withdrawn",
			fmt.Sprintf("%s paid %s wei to %s", ev.Auction.Hex(), ev.Amount, ev.Account.Hex()), true
	default:
		return "", "", "", false
	}
}

func isZero(v *big.Int) bool { return v == nil || v.Sign() == 0 }
