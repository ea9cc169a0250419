// Package notify delivers approved briefings to Slack and email.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/jonathan/rivalops/internal/types"
)

// ErrNotApproved is returned when delivery is requested for a briefing that is not approved.
var ErrNotApproved = errors.New("briefing is not approved")

// Message is the channel-neutral content of a notification.
type Message struct {
	BriefingID uuid.UUID
	Title      string
	Summary    string
	Details    string
	RiskLevel  types.RiskLevel
	Link       string
}

// Notifier sends a message on one channel and returns a delivery marker.
type Notifier interface {
	Name() string
	Send(ctx context.Context, msg *Message) (string, error)
}

// BriefingStore is the storage the Deliverer needs.
type BriefingStore interface {
	GetBriefing(ctx context.Context, id uuid.UUID) (*types.Briefing, error)
	MarkBriefingDelivered(ctx context.Context, id uuid.UUID, marker string) (bool, error)
}

// Delivery reports what DeliverBriefing did.
type Delivery struct {
	BriefingID       uuid.UUID `json:"briefing_id"`
	Marker           string    `json:"marker,omitempty"`
	AlreadyDelivered bool      `json:"already_delivered,omitempty"`
	Skipped          bool      `json:"skipped,omitempty"`
}

// Deliverer sends approved briefings through every configured notifier, at most once per briefing.
type Deliverer struct {
	store     BriefingStore
	notifiers []Notifier
	baseURL   string
	logger    *slog.Logger
	mu        sync.Mutex

	// OnSend observes each channel attempt (metrics).
	OnSend func(channel string, err error)
}

// NewDeliverer creates a Deliverer. Untyped nil notifiers are ignored; callers holding a
// possibly-nil *SlackNotifier or *EmailNotifier should use Configured to build the list.
func NewDeliverer(store BriefingStore, baseURL string, logger *slog.Logger, notifiers ...Notifier) *Deliverer {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Deliverer{store: store, baseURL: strings.TrimRight(baseURL, "/"), logger: logger}
	for _, n := range notifiers {
		if n != nil {
			d.notifiers = append(d.notifiers, n)
		}
	}
	return d
}

// Configured collects the notifiers, dropping the ones that are nil.
func Configured(slack *SlackNotifier, email *EmailNotifier) []Notifier {
	var out []Notifier
	if slack != nil {
		out = append(out, slack)
	}
	if email != nil {
		out = append(out, email)
	}
	return out
}

// Channels returns the names of the configured notifiers.
func (d *Deliverer) Channels() []string {
	names := make([]string, 0, len(d.notifiers))
	for _, n := range d.notifiers {
		names = append(names, n.Name())
	}
	return names
}

// ReviewLink returns the review URL of a briefing.
func (d *Deliverer) ReviewLink(id uuid.UUID) string {
	return fmt.Sprintf("%s/review/%s", d.baseURL, id)
}

// DeliverBriefing sends briefing id if it is approved and not yet delivered.
// With no channel configured it logs a warning and returns a skipped Delivery.
func (d *Deliverer) DeliverBriefing(ctx context.Context, id uuid.UUID) (*Delivery, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	b, err := d.store.GetBriefing(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.ReviewStatus != types.ReviewApproved {
		return nil, fmt.Errorf("%w: status is %s", ErrNotApproved, b.ReviewStatus)
	}
	if b.Delivered() {
		d.logger.Info("briefing already delivered", "briefing_id", id, "marker", b.DeliveredMarker)
		return &Delivery{BriefingID: id, Marker: b.DeliveredMarker, AlreadyDelivered: true}, nil
	}
	if len(d.notifiers) == 0 {
		d.logger.Warn("no notification channel configured; skipping delivery", "briefing_id", id)
		return &Delivery{BriefingID: id, Skipped: true}, nil
	}

	msg := &Message{
		BriefingID: b.ID,
		Title:      b.Title,
		Summary:    b.ExecutiveSummary,
		Details:    b.DetailsMarkdown,
		RiskLevel:  b.RiskLevel,
		Link:       d.ReviewLink(b.ID),
	}

	var markers []string
	var errs []error
	for _, n := range d.notifiers {
		marker, err := n.Send(ctx, msg)
		if d.OnSend != nil {
			d.OnSend(n.Name(), err)
		}
		if err != nil {
			d.logger.Error("briefing delivery failed", "briefing_id", id, "channel", n.Name(), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", n.Name(), err))
			continue
		}
		markers = append(markers, marker)
	}
	if len(markers) == 0 {
		return nil, fmt.Errorf("delivery failed on every channel: %w", errors.Join(errs...))
	}

	marker := strings.Join(markers, ";")
	if _, err := d.store.MarkBriefingDelivered(ctx, id, marker); err != nil {
		return nil, fmt.Errorf("failed to record delivery: %w", err)
	}
	d.logger.Info("briefing delivered", "briefing_id", id, "marker", marker)
	return &Delivery{BriefingID: id, Marker: marker}, nil
}
