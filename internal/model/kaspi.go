package model

import "fmt"

// PaymentMode selects the gateway adapter variant.
type PaymentMode string

const (
	// PaymentModeDirect drives a flow-state session per payment. Canonical.
	PaymentModeDirect PaymentMode = "direct"
	// PaymentModeBalance is the legacy model: payments top up a device balance.
	PaymentModeBalance PaymentMode = "balance"
)

// Result codes of the payment-network wire contract. The network expects
// HTTP 200 always; failures travel in this field.
const (
	ResultSuccess        = 0
	ResultDeviceNotFound = 1
	ResultFailure        = 5
)

// AmountTolerance is the accepted rounding slack between the session amount
// and the sum the network delivers.
const AmountTolerance = 0.01

// PaymentField is one entry of the numbered metadata block the network
// renders on its receipt display.
type PaymentField struct {
	Name string `json:"@name"`
	Text string `json:"#text"`
}

// PaymentFields maps field1..fieldN to receipt metadata.
type PaymentFields map[string]PaymentField

func (f PaymentFields) Add(name, text string) {
	f[fmt.Sprintf("field%d", len(f)+1)] = PaymentField{Name: name, Text: text}
}

// PaymentResponse is the flat response shape both webhook endpoints return.
type PaymentResponse struct {
	TxnID   string        `json:"txn_id"`
	PrvTxn  string        `json:"prv_txn,omitempty"`
	Result  int           `json:"result"`
	Sum     string        `json:"sum,omitempty"`
	Bin     string        `json:"bin,omitempty"`
	Comment string        `json:"comment"`
	Fields  PaymentFields `json:"fields,omitempty"`
}

// CheckRequest is the query payload of the eligibility probe.
type CheckRequest struct {
	TxnID   string
	Account string // device_id
	Sum     float64
}

// PayRequest is the query payload of the payment application call.
type PayRequest struct {
	TxnID   string
	TxnDate string
	Account string // device_id
	Sum     float64
}
