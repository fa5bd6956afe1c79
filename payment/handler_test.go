package payment

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/freyr/offer/saga"
)

type chargeTrigger struct {
	saga.Identity
	cents    int64
	currency string
}

func (chargeTrigger) MessageType() string          { return "test.charge" }
func (e chargeTrigger) AmountDue() (int64, string) { return e.cents, e.currency }

type rejection struct {
	saga.Identity
	reason string
}

func (rejection) MessageType() string     { return "test.rejected" }
func (e rejection) FailureReason() string { return e.reason }

type capturePublisher struct {
	msgs []saga.Message
}

func (p *capturePublisher) Publish(ctx context.Context, msg saga.Message) error {
	p.msgs = append(p.msgs, msg)
	return nil
}

func TestChargeHandlerSuccessRecordsAndReports(t *testing.T) {
	gateway := NewStubGateway()
	records := saga.NewMemoryStateStore[Record]()
	pub := &capturePublisher{}
	h := NewChargeHandler(gateway, records, pub, nil, nil)

	orderID := uuid.New()
	trigger := chargeTrigger{Identity: saga.NewOrigin(orderID), cents: 2500, currency: "EUR"}
	if err := h.Handle(context.Background(), trigger); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if len(pub.msgs) != 1 {
		t.Fatalf("published %d messages, want 1", len(pub.msgs))
	}
	taken, ok := pub.msgs[0].(PaymentTaken)
	if !ok {
		t.Fatalf("published %T, want PaymentTaken", pub.msgs[0])
	}
	if taken.CausationID() != trigger.MessageID() {
		t.Error("result must chain to the triggering message")
	}

	rec, found, err := records.Find(context.Background(), orderID)
	if err != nil || !found {
		t.Fatalf("record: found=%v err=%v", found, err)
	}
	if rec.PaymentID != taken.PaymentID {
		t.Error("stored payment ID must match the reported one")
	}
}

func TestChargeHandlerDeclineReportsFailureWithoutRecord(t *testing.T) {
	gateway := NewStubGateway()
	records := saga.NewMemoryStateStore[Record]()
	pub := &capturePublisher{}
	h := NewChargeHandler(gateway, records, pub, nil, nil)

	orderID := uuid.New()
	gateway.Decline[orderID] = true

	trigger := chargeTrigger{Identity: saga.NewOrigin(orderID), cents: 2500, currency: "EUR"}
	if err := h.Handle(context.Background(), trigger); err != nil {
		t.Fatalf("a declined charge is a business failure, not an error: %v", err)
	}

	failed, ok := pub.msgs[0].(PaymentFailed)
	if !ok {
		t.Fatalf("published %T, want PaymentFailed", pub.msgs[0])
	}
	if failed.Reason != ReasonPaymentFailed {
		t.Errorf("reason = %q, want %q", failed.Reason, ReasonPaymentFailed)
	}
	if _, found, _ := records.Find(context.Background(), orderID); found {
		t.Error("a declined charge must leave no record to compensate")
	}
}

func TestRefundHandlerCompensatesExactlyTheRecordedCharge(t *testing.T) {
	gateway := NewStubGateway()
	records := saga.NewMemoryStateStore[Record]()
	pub := &capturePublisher{}

	orderID := uuid.New()
	paymentID := uuid.New()
	if err := records.Store(context.Background(), orderID, Record{PaymentID: paymentID}); err != nil {
		t.Fatalf("seed record: %v", err)
	}

	h := NewRefundHandler(gateway, records, pub, nil, nil)
	reject := rejection{Identity: saga.NewOrigin(orderID), reason: "stock unavailable"}
	if err := h.Handle(context.Background(), reject); err != nil {
		t.Fatalf("handle: %v", err)
	}

	refunded, ok := pub.msgs[0].(PaymentRefunded)
	if !ok {
		t.Fatalf("published %T, want PaymentRefunded", pub.msgs[0])
	}
	if refunded.PaymentID != paymentID {
		t.Errorf("refunded %s, want the recorded charge %s", refunded.PaymentID, paymentID)
	}
	if refunded.Reason != "stock unavailable" {
		t.Errorf("reason = %q, want the triggering failure's reason", refunded.Reason)
	}
	if got := gateway.Refunded(); len(got) != 1 || got[0] != paymentID {
		t.Errorf("gateway refunds = %v, want [%s]", got, paymentID)
	}
	if _, found, _ := records.Find(context.Background(), orderID); found {
		t.Error("the record must be cleared after compensation")
	}
}

func TestRefundHandlerWithoutRecordIsNoOp(t *testing.T) {
	gateway := NewStubGateway()
	pub := &capturePublisher{}
	h := NewRefundHandler(gateway, saga.NewMemoryStateStore[Record](), pub, nil, nil)

	reject := rejection{Identity: saga.NewOrigin(uuid.New()), reason: "payment failed"}
	if err := h.Handle(context.Background(), reject); err != nil {
		t.Fatalf("absence means nothing to undo: %v", err)
	}
	if len(pub.msgs) != 0 {
		t.Errorf("published %d messages, want none", len(pub.msgs))
	}
	if len(gateway.Refunded()) != 0 {
		t.Error("no refund may be issued without a record")
	}
}

func TestRefundHandlerIsIdempotentAcrossDuplicateRejections(t *testing.T) {
	gateway := NewStubGateway()
	records := saga.NewMemoryStateStore[Record]()
	pub := &capturePublisher{}

	orderID := uuid.New()
	if err := records.Store(context.Background(), orderID, Record{PaymentID: uuid.New()}); err != nil {
		t.Fatalf("seed record: %v", err)
	}
	h := NewRefundHandler(gateway, records, pub, nil, nil)

	reject := rejection{Identity: saga.NewOrigin(orderID), reason: "stock unavailable"}
	if err := h.Handle(context.Background(), reject); err != nil {
		t.Fatalf("first rejection: %v", err)
	}
	if err := h.Handle(context.Background(), reject); err != nil {
		t.Fatalf("duplicate rejection: %v", err)
	}

	if len(gateway.Refunded()) != 1 {
		t.Errorf("refunds = %d, want exactly 1", len(gateway.Refunded()))
	}
	if len(pub.msgs) != 1 {
		t.Errorf("compensation results = %d, want exactly 1", len(pub.msgs))
	}
}

func TestRefundHandlerSurfacesGatewayFailure(t *testing.T) {
	gateway := NewStubGateway()
	records := saga.NewMemoryStateStore[Record]()
	pub := &capturePublisher{}

	orderID := uuid.New()
	paymentID := uuid.New()
	gateway.FailRefund[paymentID] = true
	if err := records.Store(context.Background(), orderID, Record{PaymentID: paymentID}); err != nil {
		t.Fatalf("seed record: %v", err)
	}
	h := NewRefundHandler(gateway, records, pub, nil, nil)

	reject := rejection{Identity: saga.NewOrigin(orderID), reason: "stock unavailable"}
	if err := h.Handle(context.Background(), reject); err == nil {
		t.Fatal("a failed compensation must surface as an error, never be swallowed")
	}
	// The record stays so the compensation can be retried.
	if _, found, _ := records.Find(context.Background(), orderID); !found {
		t.Error("the record must survive a failed refund")
	}
}
