package payment

import "errors"

var ErrMissingCallbackField = errors.New("payment: callback field is required")

// Callback is the signed notification the gateway delivers after a payment
// attempt. It is validated at the boundary and never persisted as-is.
type Callback struct {
	GatewayOrderID   string `json:"gateway_order_id"`
	GatewayPaymentID string `json:"gateway_payment_id"`
	Signature        string `json:"signature"`
	OrderID          string `json:"order_id"`
}

// Validate checks that all four fields are present. A callback failing this
// is a caller error; no state may be mutated for it.
func (c Callback) Validate() error {
	if c.GatewayOrderID == "" || c.GatewayPaymentID == "" || c.Signature == "" || c.OrderID == "" {
		return ErrMissingCallbackField
	}
	return nil
}
