package order

import (
	"log/slog"

	"github.com/freyr/offer/payment"
	"github.com/freyr/offer/saga"
	"github.com/freyr/offer/stock"
)

// Wiring carries the collaborators both topologies are assembled from. Steps
// and Logger may be nil; stores and gateways may not.
type Wiring struct {
	PaymentGateway payment.Gateway
	StockGateway   stock.Gateway

	PaymentRecords saga.StateStore[payment.Record]
	StockRecords   saga.StateStore[stock.Record]
	Aggregates     saga.AggregateStore

	Projection StatusProjection

	Steps  saga.StepRecorder
	Logger *slog.Logger
}

// WireChain assembles the sequential-chain topology on the fabric:
//
//	PlaceOrder → OrderPlaced → PaymentTaken → StockReserved → OrderConfirmed
//
// A declined charge rejects immediately; a failed reservation first refunds
// the charge, then rejects with the composed reason.
func WireChain(f *saga.Fabric, w Wiring) {
	f.Subscribe(TypePlaceOrder, NewPlaceHandler(f, w.Logger))
	f.Subscribe(TypeOrderPlaced, payment.NewChargeHandler(w.PaymentGateway, w.PaymentRecords, f, w.Steps, w.Logger))
	f.Subscribe(payment.TypePaymentTaken, stock.NewReserveHandler(w.StockGateway, w.StockRecords, f, w.Steps, w.Logger))
	f.Subscribe(stock.TypeStockReserved, NewConfirmHandler(f))

	f.Subscribe(payment.TypePaymentFailed, NewRejectHandler(f))
	f.Subscribe(stock.TypeStockUnavailable, payment.NewRefundHandler(w.PaymentGateway, w.PaymentRecords, f, w.Steps, w.Logger))
	f.Subscribe(payment.TypePaymentRefunded, NewRejectCompensatedHandler(f))

	subscribeTerminal(f, w)
}

// WireFanout assembles the parallel topology: the origin event fans out to
// both participants, their results converge on the outcome aggregator, and
// the aggregator's rejection is the broadcast compensation trigger. The
// aggregator's Open handler is subscribed to the origin event before the
// participants, so the pending aggregate exists before the first result can
// possibly arrive.
func WireFanout(f *saga.Fabric, w Wiring) {
	agg := saga.NewOutcomeAggregator(w.Aggregates, NewTerminalDecider(f), w.Logger, payment.Participant, stock.Participant)

	f.Subscribe(TypePlaceOrder, NewPlaceHandler(f, w.Logger))
	f.Subscribe(TypeOrderPlaced, saga.HandlerFunc(agg.Open))
	f.Subscribe(TypeOrderPlaced, payment.NewChargeHandler(w.PaymentGateway, w.PaymentRecords, f, w.Steps, w.Logger))
	f.Subscribe(TypeOrderPlaced, stock.NewReserveHandler(w.StockGateway, w.StockRecords, f, w.Steps, w.Logger))

	f.Subscribe(payment.TypePaymentTaken, saga.HandlerFunc(agg.Handle))
	f.Subscribe(payment.TypePaymentFailed, saga.HandlerFunc(agg.Handle))
	f.Subscribe(stock.TypeStockReserved, saga.HandlerFunc(agg.Handle))
	f.Subscribe(stock.TypeStockUnavailable, saga.HandlerFunc(agg.Handle))

	f.Subscribe(TypeOrderRejected, payment.NewRefundHandler(w.PaymentGateway, w.PaymentRecords, f, w.Steps, w.Logger))
	f.Subscribe(TypeOrderRejected, stock.NewReleaseHandler(w.StockGateway, w.StockRecords, f, w.Steps, w.Logger))

	subscribeTerminal(f, w)
}

func subscribeTerminal(f *saga.Fabric, w Wiring) {
	if w.Projection == nil {
		return
	}
	sink := NewStatusHandler(w.Projection)
	f.Subscribe(TypeOrderConfirmed, sink)
	f.Subscribe(TypeOrderRejected, sink)
}
