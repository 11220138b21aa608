package enums

// PaymentMethod is the instrument a student paid with, as reported by the gateway.
type PaymentMethod string

const (
	PaymentMethodCard         PaymentMethod = "card"
	PaymentMethodPSE          PaymentMethod = "pse"
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
	PaymentMethodWallet       PaymentMethod = "wallet"
	PaymentMethodCash         PaymentMethod = "cash"
)

var paymentMethods = set[PaymentMethod]{
	PaymentMethodCard, PaymentMethodPSE, PaymentMethodBankTransfer, PaymentMethodWallet, PaymentMethodCash,
}

func (p PaymentMethod) IsValid() bool { return paymentMethods.has(p) }

// PaymentMethodNames lists the accepted values for error messages.
func PaymentMethodNames() []string { return paymentMethods.strings() }

func ParsePaymentMethod(value string) (PaymentMethod, error) {
	return paymentMethods.parse("payment method", value)
}
