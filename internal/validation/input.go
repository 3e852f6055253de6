package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Константы валидации
const (
	MaxReferenceLength     = 100
	MaxDescriptionLength   = 255
	MaxReasonLength        = 500
	MaxRecipientNameLength = 100
	MinAccountNumberLength = 6
	MaxAccountNumberLength = 20
	MaxBankCodeLength      = 10
	MinPhoneDigits         = 7
	MaxPhoneDigits         = 15
)

var referenceRegex = regexp.MustCompile(`^[A-Za-z0-9_.\-]+$`)

// ValidateLength проверяет длину строки.
func ValidateLength(fieldName, value string, min, max int) error {
	length := utf8.RuneCountInString(value)
	if min > 0 && length < min {
		return fmt.Errorf("%s должен быть не менее %d символов", fieldName, min)
	}
	if max > 0 && length > max {
		return fmt.Errorf("%s должен быть не более %d символов", fieldName, max)
	}
	return nil
}

// ValidateNonEmpty проверяет, что строка не пустая.
func ValidateNonEmpty(fieldName, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s не может быть пустым", fieldName)
	}
	return nil
}

// ValidateReference проверяет reference транзакции шлюза.
func ValidateReference(reference string) error {
	if err := ValidateNonEmpty("reference", reference); err != nil {
		return err
	}
	if err := ValidateLength("reference", reference, 0, MaxReferenceLength); err != nil {
		return err
	}
	if !referenceRegex.MatchString(reference) {
		return fmt.Errorf("reference может содержать только латиницу, цифры, '_', '-' и '.'")
	}
	return nil
}

// ValidatePhone проверяет необязательный телефон плательщика.
func ValidatePhone(phone string) error {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return nil
	}
	digits := strings.TrimPrefix(phone, "+")
	if !DigitsOnly(digits) {
		return fmt.Errorf("телефон может содержать только цифры и ведущий '+'")
	}
	if len(digits) < MinPhoneDigits || len(digits) > MaxPhoneDigits {
		return fmt.Errorf("телефон должен содержать от %d до %d цифр", MinPhoneDigits, MaxPhoneDigits)
	}
	return nil
}

// ValidateDescription проверяет описание платежа для страницы оплаты.
func ValidateDescription(description string) error {
	return ValidateLength("описание", strings.TrimSpace(description), 0, MaxDescriptionLength)
}

// ValidateReason проверяет причину возврата.
func ValidateReason(reason string) error {
	return ValidateLength("причина", strings.TrimSpace(reason), 0, MaxReasonLength)
}

// ValidateAccountNumber проверяет номер счёта получателя.
func ValidateAccountNumber(accountNumber string) error {
	if len(accountNumber) < MinAccountNumberLength || len(accountNumber) > MaxAccountNumberLength || !DigitsOnly(accountNumber) {
		return fmt.Errorf("номер счёта должен содержать от %d до %d цифр", MinAccountNumberLength, MaxAccountNumberLength)
	}
	return nil
}

// ValidateBankCode проверяет код банка получателя.
func ValidateBankCode(bankCode string) error {
	if bankCode == "" || len(bankCode) > MaxBankCodeLength || !DigitsOnly(bankCode) {
		return fmt.Errorf("код банка должен состоять из цифр")
	}
	return nil
}

// ValidateRecipientName проверяет имя получателя.
func ValidateRecipientName(name string) error {
	return ValidateLength("имя получателя", name, 0, MaxRecipientNameLength)
}

// DigitsOnly сообщает, что непустая строка состоит только из цифр.
func DigitsOnly(s string) bool {
	if s == "" {
		return false
	}
	for _, ch := range s {
		if !unicode.IsDigit(ch) {
			return false
		}
	}
	return true
}
