package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const providerPaystack = "paystack"

// PaystackConfig параметры подключения к Paystack.
type PaystackConfig struct {
	SecretKey string
	BaseURL   string
	// MinorUnits сколько минимальных единиц в одной денежной (100 для kobo).
	MinorUnits int64
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Paystack проверка транзакций и возвраты.
type Paystack struct {
	api   *transport
	minor decimal.Decimal
}

// NewPaystack создаёт адаптер.
func NewPaystack(cfg PaystackConfig) *Paystack {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.paystack.co"
	}
	if cfg.MinorUnits <= 0 {
		cfg.MinorUnits = 100
	}
	t := newTransport(providerPaystack, cfg.BaseURL, cfg.Timeout, cfg.HTTPClient)
	t.header.Set("Authorization", "Bearer "+cfg.SecretKey)
	return &Paystack{api: t, minor: decimal.NewFromInt(cfg.MinorUnits)}
}

func (p *Paystack) toMinor(amount decimal.Decimal) int64 {
	return amount.Mul(p.minor).Round(0).IntPart()
}

func (p *Paystack) fromMinor(v int64) decimal.Decimal {
	return decimal.NewFromInt(v).Div(p.minor)
}

type paystackVerifyResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		Reference string `json:"reference"`
		Amount    int64  `json:"amount"`
		Currency  string `json:"currency"`
		Status    string `json:"status"`
	} `json:"data"`
}

// VerifyTransaction проверяет транзакцию. Ответ 4xx с status=false означает
// неподтверждённую транзакцию.
func (p *Paystack) VerifyTransaction(ctx context.Context, reference string) (*Verification, error) {
	resp, err := p.api.get(ctx, "/transaction/verify/"+url.PathEscape(reference), nil)
	if err != nil {
		return nil, err
	}
	var out paystackVerifyResponse
	if err := resp.decode(providerPaystack, &out); err != nil {
		return nil, err
	}
	v := &Verification{
		Reference: reference,
		Amount:    p.fromMinor(out.Data.Amount),
		Currency:  out.Data.Currency,
		RawStatus: out.Data.Status,
	}
	if v.RawStatus == "" {
		v.RawStatus = out.Message
	}
	v.Verified = resp.ok() && out.Status && strings.EqualFold(out.Data.Status, "success")
	return v, nil
}

type paystackRefundData struct {
	ID     int64  `json:"id"`
	Amount int64  `json:"amount"`
	Status string `json:"status"`
}

type paystackRefundResponse struct {
	Status  bool               `json:"status"`
	Message string             `json:"message"`
	Data    paystackRefundData `json:"data"`
}

type paystackRefundListResponse struct {
	Status  bool                 `json:"status"`
	Message string               `json:"message"`
	Data    []paystackRefundData `json:"data"`
}

// InitiateRefund создаёт возврат по транзакции.
func (p *Paystack) InitiateRefund(ctx context.Context, req RefundRequest) (*RefundReceipt, error) {
	resp, err := p.api.postJSON(ctx, "/refund", map[string]any{
		"transaction": req.Reference,
		"amount":      p.toMinor(req.Amount),
	})
	if err != nil {
		return nil, err
	}
	var out paystackRefundResponse
	if err := resp.decode(providerPaystack, &out); err != nil {
		return nil, err
	}
	if !resp.ok() || !out.Status {
		return nil, rejected(providerPaystack, "create refund: %s", out.Message)
	}
	receipt := &RefundReceipt{Status: normalizeRefundStatus(out.Data.Status)}
	if out.Data.ID != 0 {
		receipt.RefundID = strconv.FormatInt(out.Data.ID, 10)
	}
	return receipt, nil
}

// QueryRefundStatus возвращает статус возврата по id или по транзакции и сумме.
func (p *Paystack) QueryRefundStatus(ctx context.Context, q RefundQuery) (RefundStatus, error) {
	if q.RefundID != "" {
		resp, err := p.api.get(ctx, "/refund/"+url.PathEscape(q.RefundID), nil)
		if err != nil {
			return "", err
		}
		if resp.status == http.StatusNotFound {
			return RefundNotFound, nil
		}
		var out paystackRefundResponse
		if err := resp.decode(providerPaystack, &out); err != nil {
			return "", err
		}
		if !resp.ok() || !out.Status {
			return "", rejected(providerPaystack, "fetch refund: %s", out.Message)
		}
		return normalizeRefundStatus(out.Data.Status), nil
	}

	resp, err := p.api.get(ctx, "/refund", url.Values{"transaction": {q.Reference}})
	if err != nil {
		return "", err
	}
	if resp.status == http.StatusNotFound {
		return RefundNotFound, nil
	}
	var out paystackRefundListResponse
	if err := resp.decode(providerPaystack, &out); err != nil {
		return "", err
	}
	if !resp.ok() || !out.Status {
		return "", rejected(providerPaystack, "list refunds: %s", out.Message)
	}
	want := p.toMinor(q.Amount)
	claimed := make(map[string]struct{}, len(q.Claimed))
	for _, id := range q.Claimed {
		claimed[id] = struct{}{}
	}
	var candidates []paystackRefundData
	for _, rf := range out.Data {
		if _, taken := claimed[strconv.FormatInt(rf.ID, 10)]; taken {
			continue
		}
		if q.Amount.IsZero() || rf.Amount == want {
			candidates = append(candidates, rf)
		}
	}
	switch {
	case len(candidates) == 0:
		return RefundNotFound, nil
	case len(candidates) == 1 && q.Peers == 0:
		return normalizeRefundStatus(candidates[0].Status), nil
	default:
		return "", fmt.Errorf("%s: %w: %d candidates for %s, %d peers",
			providerPaystack, ErrAmbiguousRefund, len(candidates), q.Reference, q.Peers)
	}
}

func normalizeRefundStatus(s string) RefundStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "processed", "success", "successful":
		return RefundProcessed
	case "failed", "reversed", "rejected":
		return RefundFailed
	default:
		return RefundPending
	}
}
