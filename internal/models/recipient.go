package models

import (
	"fmt"
	"strings"

	"github.com/solutionners/marketplace-backend/internal/validation"
)

// Recipient реквизиты получателя выплаты.
type Recipient struct {
	Type          string `json:"type"`
	Name          string `json:"name"`
	AccountNumber string `json:"account_number"`
	BankCode      string `json:"bank_code"`
}

// Normalize убирает пробелы и подставляет тип по умолчанию.
func (r Recipient) Normalize() Recipient {
	r.Type = strings.ToLower(strings.TrimSpace(r.Type))
	if r.Type == "" {
		r.Type = RecipientTypeNuban
	}
	r.Name = strings.TrimSpace(r.Name)
	r.AccountNumber = strings.TrimSpace(r.AccountNumber)
	r.BankCode = strings.TrimSpace(r.BankCode)
	return r
}

// Validate проверяет реквизиты.
func (r Recipient) Validate() error {
	if _, ok := ValidRecipientTypes[r.Type]; !ok {
		return fmt.Errorf("неподдерживаемый тип получателя %q", r.Type)
	}
	if err := validation.ValidateAccountNumber(r.AccountNumber); err != nil {
		return err
	}
	if err := validation.ValidateBankCode(r.BankCode); err != nil {
		return err
	}
	return validation.ValidateRecipientName(r.Name)
}
