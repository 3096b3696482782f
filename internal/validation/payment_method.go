package validation

import (
	"fmt"
	"strings"

	"github.com/mmeshcher/hotelbooking/internal/model"
)

// exactMethods перечисляет допустимые названия способов оплаты после нормализации.
var exactMethods = map[string]model.PaymentMethod{
	"CREDIT_CARD":    model.PaymentMethodCreditCard,
	"DEBIT_CARD":     model.PaymentMethodDebitCard,
	"PAYPAL":         model.PaymentMethodPayPal,
	"BANK_TRANSFER":  model.PaymentMethodBankTransfer,
	"CASH":           model.PaymentMethodCash,
	"DIGITAL_WALLET": model.PaymentMethodDigitalWallet,
	"UPI":            model.PaymentMethodDigitalWallet,
}

type methodRule struct {
	matches func(s string) bool
	method  model.PaymentMethod
}

func containsAny(subs ...string) func(string) bool {
	return func(s string) bool {
		for _, sub := range subs {
			if strings.Contains(s, sub) {
				return true
			}
		}
		return false
	}
}

// fallbackRules проверяются по порядку, если точного совпадения нет.
var fallbackRules = []methodRule{
	{
		matches: func(s string) bool { return s == "CC" || containsAny("CREDIT", "CARD")(s) },
		method:  model.PaymentMethodCreditCard,
	},
	{matches: containsAny("DEBIT"), method: model.PaymentMethodDebitCard},
	{matches: containsAny("PAYPAL"), method: model.PaymentMethodPayPal},
	{matches: containsAny("BANK", "TRANSFER"), method: model.PaymentMethodBankTransfer},
	{matches: containsAny("CASH"), method: model.PaymentMethodCash},
	{matches: containsAny("UPI"), method: model.PaymentMethodDigitalWallet},
}

// NormalizePaymentMethod приводит строку к виду, в котором хранятся названия способов оплаты.
func NormalizePaymentMethod(method string) string {
	s := strings.ToUpper(strings.TrimSpace(method))
	return strings.NewReplacer(" ", "_", "-", "_", `"`, "").Replace(s)
}

// ParsePaymentMethod распознаёт способ оплаты: сначала точное совпадение,
// затем поиск подстроки по таблице fallbackRules.
func ParsePaymentMethod(method string) (model.PaymentMethod, error) {
	cleaned := NormalizePaymentMethod(method)
	if cleaned == "" {
		return "", fmt.Errorf("%w: method is empty", model.ErrInvalidPaymentMethod)
	}

	if m, ok := exactMethods[cleaned]; ok {
		return m, nil
	}

	for _, rule := range fallbackRules {
		if rule.matches(cleaned) {
			return rule.method, nil
		}
	}

	return "", fmt.Errorf("%w: %q", model.ErrInvalidPaymentMethod, method)
}
