package payment

import (
	"context"
	"fmt"
)

// Intent is the gateway-side order created to collect an online payment.
type Intent struct {
	GatewayOrderID string
}

// RefundReceipt acknowledges a refund accepted by the gateway.
type RefundReceipt struct {
	RefundID string
}

// Gateway is the outbound port to the external payment processor. It is
// unreliable I/O: callers must treat timeouts and transport errors as
// "unknown outcome" and must not blindly retry refunds.
type Gateway interface {
	CreateIntent(ctx context.Context, amount int64, currency string) (*Intent, error)
	Refund(ctx context.Context, gatewayPaymentID string, amount int64, currency string) (*RefundReceipt, error)
}

// GatewayError is an explicit rejection from the gateway, distinct from
// transport failures.
type GatewayError struct {
	Status  int
	Message string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("payment gateway: status %d: %s", e.Status, e.Message)
}
