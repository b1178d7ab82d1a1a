package msg

// TickMsg is the wire format of a market data tick
type TickMsg struct {
	EventID      string             `json:"event_id"`
	Symbol       string             `json:"symbol"`
	Price        float64            `json:"price"`
	Volume       float64            `json:"volume,omitempty"`
	Fields       map[string]float64 `json:"fields,omitempty"` // derived indicators
	TsUnixMillis int64              `json:"ts_unix_millis"`
}

// OrderEventMsg announces a terminal order state on the events topic
type OrderEventMsg struct {
	EventID        string  `json:"event_id"`
	OrderID        string  `json:"order_id"`
	Symbol         string  `json:"symbol"`
	Side           string  `json:"side"` // "BUY" or "SELL"
	Qty            float64 `json:"qty"`
	Status         string  `json:"status"` // "EXECUTED", "REJECTED", "FAILED"
	Reason         string  `json:"reason,omitempty"`
	ExecutionPrice float64 `json:"execution_price,omitempty"`
	TsUnixMillis   int64   `json:"ts_unix_millis"`
}

// Record represents a consumed Kafka record
type Record struct {
	Topic     string
	Key       string
	Value     []byte
	Partition int32
	Offset    int64
	Timestamp int64
}
