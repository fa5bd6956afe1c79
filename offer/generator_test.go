package offer

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/freyr/offer/order"
	"github.com/freyr/offer/saga"
)

type capturePublisher struct {
	msgs []saga.Message
}

func (p *capturePublisher) Publish(ctx context.Context, msg saga.Message) error {
	p.msgs = append(p.msgs, msg)
	return nil
}

func TestGeneratorRendersOfferOnConfirmation(t *testing.T) {
	templates := NewMemoryTemplateStore()
	offers := NewMemoryStore()
	details := saga.NewMemoryStateStore[Details]()
	pub := &capturePublisher{}
	g := NewGenerator(templates, offers, details, pub, "", nil)

	orderID := uuid.New()
	placed := order.OrderPlaced{
		Identity:    saga.NewOrigin(orderID),
		OrderID:     orderID,
		CustomerID:  uuid.New(),
		ProductID:   uuid.New(),
		Quantity:    3,
		AmountCents: 2997,
		Currency:    "EUR",
	}
	if err := g.CaptureHandler().Handle(context.Background(), placed); err != nil {
		t.Fatalf("capture: %v", err)
	}

	confirmed := order.OrderConfirmed{Identity: saga.Follow(placed), OrderID: orderID}
	if err := g.GenerateHandler().Handle(context.Background(), confirmed); err != nil {
		t.Fatalf("generate: %v", err)
	}

	o, found, err := offers.GetByOrder(context.Background(), orderID)
	if err != nil || !found {
		t.Fatalf("offer: found=%v err=%v", found, err)
	}
	if o.Text == "" {
		t.Error("rendered offer must not be empty")
	}

	if len(pub.msgs) != 1 {
		t.Fatalf("published %d messages, want 1", len(pub.msgs))
	}
	ready, ok := pub.msgs[0].(OfferReady)
	if !ok {
		t.Fatalf("published %T, want OfferReady", pub.msgs[0])
	}
	if ready.OrderID != orderID || ready.OfferID != o.OfferID {
		t.Error("announcement must reference the stored offer")
	}
	if ready.CausationID() != confirmed.MessageID() {
		t.Error("announcement must chain to the confirmation")
	}
}

func TestGeneratorUsesStoredTemplate(t *testing.T) {
	templates := NewMemoryTemplateStore()
	if err := templates.Put(context.Background(), Template{Name: "terse", Body: "order {{.OrderID}}"}); err != nil {
		t.Fatalf("put template: %v", err)
	}
	offers := NewMemoryStore()
	details := saga.NewMemoryStateStore[Details]()
	g := NewGenerator(templates, offers, details, &capturePublisher{}, "terse", nil)

	orderID := uuid.New()
	placed := order.OrderPlaced{Identity: saga.NewOrigin(orderID), OrderID: orderID, Quantity: 1, AmountCents: 100, Currency: "EUR"}
	if err := g.CaptureHandler().Handle(context.Background(), placed); err != nil {
		t.Fatalf("capture: %v", err)
	}
	if err := g.GenerateHandler().Handle(context.Background(), order.OrderConfirmed{Identity: saga.Follow(placed), OrderID: orderID}); err != nil {
		t.Fatalf("generate: %v", err)
	}

	o, _, err := offers.GetByOrder(context.Background(), orderID)
	if err != nil {
		t.Fatalf("offer: %v", err)
	}
	if want := "order " + orderID.String(); o.Text != want {
		t.Errorf("text = %q, want %q", o.Text, want)
	}
}

func TestGeneratorMissingDetailsIsAnError(t *testing.T) {
	g := NewGenerator(NewMemoryTemplateStore(), NewMemoryStore(), saga.NewMemoryStateStore[Details](), &capturePublisher{}, "", nil)

	// A confirmation implies the origin event was seen; a missing record
	// here is not the compensation-style "nothing to do" case.
	confirmed := order.OrderConfirmed{Identity: saga.NewOrigin(uuid.New())}
	err := g.GenerateHandler().Handle(context.Background(), confirmed)
	if !errors.Is(err, saga.ErrStateMissing) {
		t.Errorf("err = %v, want ErrStateMissing", err)
	}
}
