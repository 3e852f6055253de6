package gateway

import (
	"context"
	"time"
)

// CallObserver принимает длительность и результат вызова провайдера.
type CallObserver interface {
	ObserveGatewayCall(operation string, started time.Time, err error)
}

type instrumented struct {
	next Client
	obs  CallObserver
}

// Instrument оборачивает клиент, сообщая о каждом вызове наблюдателю.
func Instrument(next Client, obs CallObserver) Client {
	if obs == nil {
		return next
	}
	return &instrumented{next: next, obs: obs}
}

func (c *instrumented) InitiateTransaction(ctx context.Context, req InitiateRequest) (*Checkout, error) {
	started := time.Now()
	out, err := c.next.InitiateTransaction(ctx, req)
	c.obs.ObserveGatewayCall("initiate_transaction", started, err)
	return out, err
}

func (c *instrumented) VerifyTransaction(ctx context.Context, reference string) (*Verification, error) {
	started := time.Now()
	out, err := c.next.VerifyTransaction(ctx, reference)
	c.obs.ObserveGatewayCall("verify_transaction", started, err)
	return out, err
}

func (c *instrumented) InitiateRefund(ctx context.Context, req RefundRequest) (*RefundReceipt, error) {
	started := time.Now()
	out, err := c.next.InitiateRefund(ctx, req)
	c.obs.ObserveGatewayCall("initiate_refund", started, err)
	return out, err
}

func (c *instrumented) QueryRefundStatus(ctx context.Context, q RefundQuery) (RefundStatus, error) {
	started := time.Now()
	out, err := c.next.QueryRefundStatus(ctx, q)
	c.obs.ObserveGatewayCall("query_refund", started, err)
	return out, err
}

func (c *instrumented) InitiateTransfer(ctx context.Context, req TransferRequest) (*TransferReceipt, error) {
	started := time.Now()
	out, err := c.next.InitiateTransfer(ctx, req)
	c.obs.ObserveGatewayCall("initiate_transfer", started, err)
	return out, err
}

func (c *instrumented) QueryTransferStatus(ctx context.Context, q TransferQuery) (TransferStatus, error) {
	started := time.Now()
	out, err := c.next.QueryTransferStatus(ctx, q)
	c.obs.ObserveGatewayCall("query_transfer", started, err)
	return out, err
}
