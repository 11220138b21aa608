package enums

// Gateway identifies the external processor that owns a payment.
type Gateway string

const (
	GatewayStripe   Gateway = "stripe"
	GatewaySquare   Gateway = "square"
	GatewayRazorpay Gateway = "razorpay"
	GatewaySandbox  Gateway = "sandbox"
)

var gateways = set[Gateway]{GatewayStripe, GatewaySquare, GatewayRazorpay, GatewaySandbox}

func (g Gateway) IsValid() bool { return gateways.has(g) }

func ParseGateway(value string) (Gateway, error) {
	return gateways.parse("gateway", value)
}
