package gateway

import (
	"context"
	"errors"
)

// Router собирает Client из провайдеров, отвечающих за отдельные операции.
type Router struct {
	Checkout Checkouter
	Verify   Verifier
	Refund   Refunder
	Transfer Transferer
}

var _ Client = (*Router)(nil)

var errNotConfigured = errors.New("operation is not configured")

func (r *Router) InitiateTransaction(ctx context.Context, req InitiateRequest) (*Checkout, error) {
	if r.Checkout == nil {
		return nil, rejected("router", "checkout: %v", errNotConfigured)
	}
	return r.Checkout.InitiateTransaction(ctx, req)
}

func (r *Router) VerifyTransaction(ctx context.Context, reference string) (*Verification, error) {
	if r.Verify == nil {
		return nil, rejected("router", "verify: %v", errNotConfigured)
	}
	return r.Verify.VerifyTransaction(ctx, reference)
}

func (r *Router) InitiateRefund(ctx context.Context, req RefundRequest) (*RefundReceipt, error) {
	if r.Refund == nil {
		return nil, rejected("router", "refund: %v", errNotConfigured)
	}
	return r.Refund.InitiateRefund(ctx, req)
}

func (r *Router) QueryRefundStatus(ctx context.Context, q RefundQuery) (RefundStatus, error) {
	if r.Refund == nil {
		return "", rejected("router", "refund status: %v", errNotConfigured)
	}
	return r.Refund.QueryRefundStatus(ctx, q)
}

func (r *Router) InitiateTransfer(ctx context.Context, req TransferRequest) (*TransferReceipt, error) {
	if r.Transfer == nil {
		return nil, rejected("router", "transfer: %v", errNotConfigured)
	}
	return r.Transfer.InitiateTransfer(ctx, req)
}

func (r *Router) QueryTransferStatus(ctx context.Context, q TransferQuery) (TransferStatus, error) {
	if r.Transfer == nil {
		return "", rejected("router", "transfer status: %v", errNotConfigured)
	}
	return r.Transfer.QueryTransferStatus(ctx, q)
}

// Providers набор доступных адаптеров по именам.
type Providers map[string]any

// Route собирает Router по именам провайдеров для каждой операции.
// Пустое имя оставляет операцию ненастроенной.
func Route(p Providers, checkout, verify, refund, transfer string) (*Router, error) {
	r := &Router{}
	var err error
	if r.Checkout, err = pick[Checkouter](p, checkout, "checkout"); err != nil {
		return nil, err
	}
	if r.Verify, err = pick[Verifier](p, verify, "verify"); err != nil {
		return nil, err
	}
	if r.Refund, err = pick[Refunder](p, refund, "refund"); err != nil {
		return nil, err
	}
	if r.Transfer, err = pick[Transferer](p, transfer, "transfer"); err != nil {
		return nil, err
	}
	return r, nil
}

func pick[T any](p Providers, name, op string) (T, error) {
	var zero T
	if name == "" {
		return zero, nil
	}
	raw, ok := p[name]
	if !ok {
		return zero, &ConfigError{Op: op, Provider: name, Reason: "unknown provider"}
	}
	v, ok := raw.(T)
	if !ok {
		return zero, &ConfigError{Op: op, Provider: name, Reason: "provider does not support operation"}
	}
	return v, nil
}

// ConfigError неверная маршрутизация операций по провайдерам.
type ConfigError struct {
	Op       string
	Provider string
	Reason   string
}

func (e *ConfigError) Error() string {
	return "gateway: " + e.Op + " via " + e.Provider + ": " + e.Reason
}
