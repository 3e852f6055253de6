package gateway

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	providerMarasoftpay   = "marasoftpay"
	marasoftpayDateLayout = "02-01-2006"
)

// MarasoftpayConfig параметры подключения к Marasoftpay.
type MarasoftpayConfig struct {
	EncKey      string
	CheckoutURL string
	APIURL      string
	TransferURL string
	// RequestType "live" или "test".
	RequestType string
	RedirectURL string
	Timeout     time.Duration
	HTTPClient  *http.Client
}

// Marasoftpay страница оплаты, проверка транзакций и выплаты.
type Marasoftpay struct {
	cfg      MarasoftpayConfig
	checkout *transport
	api      *transport
	transfer *transport
	now      func() time.Time
}

// NewMarasoftpay создаёт адаптер.
func NewMarasoftpay(cfg MarasoftpayConfig) *Marasoftpay {
	if cfg.CheckoutURL == "" {
		cfg.CheckoutURL = "https://checkout.marasoftpay.live"
	}
	if cfg.APIURL == "" {
		cfg.APIURL = "https://api.marasoftpay.live"
	}
	if cfg.TransferURL == "" {
		cfg.TransferURL = "https://developers.marasoftpay.live"
	}
	if cfg.RequestType == "" {
		cfg.RequestType = "live"
	}
	return &Marasoftpay{
		cfg:      cfg,
		checkout: newTransport(providerMarasoftpay, cfg.CheckoutURL, cfg.Timeout, cfg.HTTPClient),
		api:      newTransport(providerMarasoftpay, cfg.APIURL, cfg.Timeout, cfg.HTTPClient),
		transfer: newTransport(providerMarasoftpay, cfg.TransferURL, cfg.Timeout, cfg.HTTPClient),
		now:      time.Now,
	}
}

// flexBool принимает true, "true", "success".
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	s := strings.ToLower(strings.Trim(string(bytes.TrimSpace(data)), `"`))
	*b = flexBool(s == "true" || s == "success" || s == "successful")
	return nil
}

type marasoftpayInitiateResponse struct {
	Status  flexBool `json:"status"`
	Message string   `json:"message"`
	URL     string   `json:"url"`
}

// InitiateTransaction создаёт страницу оплаты.
func (m *Marasoftpay) InitiateTransaction(ctx context.Context, req InitiateRequest) (*Checkout, error) {
	redirect := req.RedirectURL
	if redirect == "" {
		redirect = m.cfg.RedirectURL
	}
	payload := map[string]any{
		"data": map[string]string{
			"enc_key":                  m.cfg.EncKey,
			"request_type":             m.cfg.RequestType,
			"merchant_tx_ref":          req.Reference,
			"redirect_url":             redirect,
			"name":                     req.Payer.Name,
			"email_address":            req.Payer.Email,
			"phone_number":             req.Payer.Phone,
			"amount":                   req.Amount.StringFixed(2),
			"currency":                 req.Currency,
			"user_bear_charge":         "no",
			"preferred_payment_option": "card",
			"description":              req.Description,
		},
	}

	resp, err := m.checkout.postJSON(ctx, "/initiate_transaction", payload)
	if err != nil {
		return nil, err
	}
	var out marasoftpayInitiateResponse
	if err := resp.decode(providerMarasoftpay, &out); err != nil {
		return nil, err
	}
	if !resp.ok() || !bool(out.Status) || out.URL == "" {
		return nil, rejected(providerMarasoftpay, "initiate transaction: %s", out.Message)
	}
	return &Checkout{PaymentURL: out.URL, Reference: req.Reference}, nil
}

type marasoftpayVerifyResponse struct {
	Status  flexBool `json:"status"`
	Message string   `json:"message"`
	Data    struct {
		TransactionRef string          `json:"transaction_ref"`
		Amount         decimal.Decimal `json:"amount"`
		Currency       string          `json:"currency"`
		Status         string          `json:"status"`
		Paycode        string          `json:"paycode"`
	} `json:"data"`
}

// VerifyTransaction проверяет транзакцию по reference.
func (m *Marasoftpay) VerifyTransaction(ctx context.Context, reference string) (*Verification, error) {
	resp, err := m.api.postJSON(ctx, "/api/checktransaction", map[string]string{
		"enc_key":         m.cfg.EncKey,
		"transaction_ref": reference,
	})
	if err != nil {
		return nil, err
	}
	var out marasoftpayVerifyResponse
	if err := resp.decode(providerMarasoftpay, &out); err != nil {
		return nil, err
	}

	status := strings.ToLower(out.Data.Status)
	v := &Verification{
		Reference: reference,
		Amount:    out.Data.Amount,
		Currency:  out.Data.Currency,
		RawStatus: out.Data.Status,
		Paycode:   out.Data.Paycode,
	}
	v.Verified = resp.ok() && bool(out.Status) &&
		(status == "" || status == "success" || status == "successful" || status == "completed")
	if v.RawStatus == "" {
		v.RawStatus = out.Message
	}
	return v, nil
}

type marasoftpayTransferResponse struct {
	Status       flexBool `json:"status"`
	Message      string   `json:"message"`
	TransferCode string   `json:"transferCode"`
}

// InitiateTransfer отправляет выплату на банковский счёт.
func (m *Marasoftpay) InitiateTransfer(ctx context.Context, req TransferRequest) (*TransferReceipt, error) {
	description := req.Description
	if description == "" {
		description = "Withdrawal from wallet"
	}
	form := url.Values{}
	form.Set("amount", req.Amount.StringFixed(2))
	form.Set("transactionRef", req.CorrelationID)
	form.Set("account_number", req.Destination.AccountNumber)
	form.Set("bank_code", req.Destination.BankCode)
	form.Set("description", description)
	form.Set("currency", req.Currency)
	form.Set("enc_key", m.cfg.EncKey)

	resp, err := m.transfer.postForm(ctx, "/createtransfer", form)
	if err != nil {
		return nil, err
	}
	var out marasoftpayTransferResponse
	if err := resp.decode(providerMarasoftpay, &out); err != nil {
		return nil, err
	}
	if !resp.ok() || !bool(out.Status) {
		return nil, rejected(providerMarasoftpay, "create transfer: %s", out.Message)
	}
	code := out.TransferCode
	if code == "" {
		code = req.CorrelationID
	}
	return &TransferReceipt{TransferCode: code}, nil
}

type marasoftpayHistoryResponse struct {
	Status       flexBool `json:"status"`
	Message      string   `json:"message"`
	Transactions []struct {
		TransactionRef string `json:"transaction_ref"`
		Status         string `json:"status"`
	} `json:"transactions"`
}

// QueryTransferStatus ищет перевод в истории по transaction_ref.
func (m *Marasoftpay) QueryTransferStatus(ctx context.Context, q TransferQuery) (TransferStatus, error) {
	now := m.now()
	since := q.Since
	if since.IsZero() || since.After(now) {
		since = now.AddDate(0, 0, -30)
	}
	resp, err := m.api.postJSON(ctx, "/account_history/transfers", map[string]string{
		"enc_key":    m.cfg.EncKey,
		"start_date": since.Format(marasoftpayDateLayout),
		"end_date":   now.Format(marasoftpayDateLayout),
	})
	if err != nil {
		return "", err
	}
	var out marasoftpayHistoryResponse
	if err := resp.decode(providerMarasoftpay, &out); err != nil {
		return "", err
	}
	if !resp.ok() {
		return "", rejected(providerMarasoftpay, "transfer history: %s", out.Message)
	}
	for _, tr := range out.Transactions {
		if tr.TransactionRef == q.CorrelationID {
			return normalizeTransferStatus(tr.Status), nil
		}
	}
	return TransferNotFound, nil
}

func normalizeTransferStatus(s string) TransferStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "success", "successful", "completed", "paid":
		return TransferSuccess
	case "failed", "reversed", "declined", "cancelled", "canceled", "rejected":
		return TransferFailed
	default:
		return TransferPending
	}
}
