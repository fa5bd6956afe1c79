package offer

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"text/template"
	"time"

	"github.com/google/uuid"

	"github.com/freyr/offer/order"
	"github.com/freyr/offer/saga"
)

// Message types routed by the dispatch fabric.
const TypeOfferReady = "offer.ready"

// OfferReady announces a rendered offer for a confirmed order.
type OfferReady struct {
	saga.Identity
	OfferID uuid.UUID `json:"offer_id"`
	OrderID uuid.UUID `json:"order_id"`
}

func (OfferReady) MessageType() string { return TypeOfferReady }

// Details is what this context captures from the origin event so it can
// render later without calling back into the order context.
type Details struct {
	OrderID     uuid.UUID `json:"order_id"`
	CustomerID  uuid.UUID `json:"customer_id"`
	ProductID   uuid.UUID `json:"product_id"`
	Quantity    int       `json:"quantity"`
	AmountCents int64     `json:"amount_cents"`
	Currency    string    `json:"currency"`
}

// Generator renders the offer. CaptureHandler records the order's details on
// the origin event; GenerateHandler renders on confirmation. A missing
// details record at generation time is an error, not a no-op: confirmation
// implies the origin event was seen.
type Generator struct {
	templates TemplateStore
	offers    Store
	details   saga.StateStore[Details]
	pub       saga.Publisher
	template  string
	logger    *slog.Logger
}

// NewGenerator wires the generator. templateName selects the template;
// DefaultTemplate is used when the store has no entry for it.
func NewGenerator(templates TemplateStore, offers Store, details saga.StateStore[Details], pub saga.Publisher, templateName string, logger *slog.Logger) *Generator {
	if templateName == "" {
		templateName = DefaultTemplate.Name
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		templates: templates,
		offers:    offers,
		details:   details,
		pub:       pub,
		template:  templateName,
		logger:    logger,
	}
}

// CaptureHandler returns the handler for the origin event.
func (g *Generator) CaptureHandler() saga.Handler {
	return saga.HandlerFunc(func(ctx context.Context, msg saga.Message) error {
		placed, ok := msg.(order.OrderPlaced)
		if !ok {
			return fmt.Errorf("%w: %T is not an order origin event", saga.ErrUnexpectedMessage, msg)
		}
		return g.details.Store(ctx, msg.CorrelationID(), Details{
			OrderID:     placed.OrderID,
			CustomerID:  placed.CustomerID,
			ProductID:   placed.ProductID,
			Quantity:    placed.Quantity,
			AmountCents: placed.AmountCents,
			Currency:    placed.Currency,
		})
	})
}

// GenerateHandler returns the handler for the confirmation event.
func (g *Generator) GenerateHandler() saga.Handler {
	return saga.HandlerFunc(func(ctx context.Context, msg saga.Message) error {
		if _, ok := msg.(order.OrderConfirmed); !ok {
			return fmt.Errorf("%w: %T is not an order confirmation", saga.ErrUnexpectedMessage, msg)
		}
		d, found, err := g.details.Find(ctx, msg.CorrelationID())
		if err != nil {
			return fmt.Errorf("find order details: %w", err)
		}
		if !found {
			return fmt.Errorf("%w: order details for %s", saga.ErrStateMissing, msg.CorrelationID())
		}

		text, err := g.render(ctx, d)
		if err != nil {
			return err
		}

		o := Offer{
			OfferID:   uuid.New(),
			OrderID:   d.OrderID,
			Text:      text,
			CreatedAt: time.Now(),
		}
		if err := g.offers.Save(ctx, o); err != nil {
			return fmt.Errorf("save offer: %w", err)
		}
		g.logger.Info("offer generated", "order_id", d.OrderID, "offer_id", o.OfferID)
		return g.pub.Publish(ctx, OfferReady{
			Identity: saga.Follow(msg),
			OfferID:  o.OfferID,
			OrderID:  d.OrderID,
		})
	})
}

func (g *Generator) render(ctx context.Context, d Details) (string, error) {
	t, found, err := g.templates.Get(ctx, g.template)
	if err != nil {
		return "", fmt.Errorf("get template %q: %w", g.template, err)
	}
	if !found {
		t = DefaultTemplate
	}
	tmpl, err := template.New(t.Name).Parse(t.Body)
	if err != nil {
		return "", fmt.Errorf("parse template %q: %w", t.Name, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, d); err != nil {
		return "", fmt.Errorf("render template %q: %w", t.Name, err)
	}
	return buf.String(), nil
}

// Wire subscribes the generator's handlers and registers its decoder.
func (g *Generator) Wire(f *saga.Fabric) {
	f.Subscribe(order.TypeOrderPlaced, g.CaptureHandler())
	f.Subscribe(order.TypeOrderConfirmed, g.GenerateHandler())
}

// RegisterCodec installs this context's wire decoder.
func RegisterCodec(c *saga.Codec) {
	c.Register(TypeOfferReady, func(env saga.Envelope) (saga.Message, error) {
		e, err := saga.DecodePayload[OfferReady](env)
		if err != nil {
			return nil, err
		}
		e.Identity = saga.RestoreIdentity(env.MessageID, env.CorrelationID, env.CausationID)
		return e, nil
	})
}
