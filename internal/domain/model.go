package domain

import "encoding/json"

// Raw sale event as the marketplace feed returns it, one per matched order.
// A single event can carry several assets; each asset becomes its own
// SaleRecord.
type RawSaleEvent struct {
	Maker        string      `json:"maker"`
	Matcher      string      `json:"matcher"`
	PaymentToken string      `json:"paymentToken"`
	RealPrice    json.Number `json:"realPrice"` // raw integer amount in token base units
	Timestamp    int64       `json:"timestamp"` // unix seconds
	TxHash       string      `json:"txHash"`
	OrderID      string      `json:"orderId,omitempty"`
	OrderKind    int         `json:"orderKind"`
	Quantity     int         `json:"quantity,omitempty"`
	Assets       []RawAsset  `json:"assets"`
}

type RawAsset struct {
	ID string `json:"id"`
}

// Buyer picks which side of the order paid. Kinds 0 and 2 are offers the
// maker accepted, everything else is a direct purchase by the matcher.
func (e *RawSaleEvent) Buyer() string {
	if e.OrderKind == 0 || e.OrderKind == 2 {
		return e.Maker
	}
	return e.Matcher
}

// UnitQuantity normalizes the optional quantity field; feeds for
// single-unit collections omit it.
func (e *RawSaleEvent) UnitQuantity() int {
	if e.Quantity <= 0 {
		return 1
	}
	return e.Quantity
}

// One asset unit sold within a transaction. Immutable once appended to a
// ledger.
type SaleRecord struct {
	Buyer     string `json:"buyer"`
	AssetID   string `json:"asset_id"`
	Quantity  int    `json:"quantity"`
	Price     string `json:"price"` // "<amount> <symbol>"
	TxHash    string `json:"tx_hash"`
	Timestamp int64  `json:"timestamp"`
}
