package models

// Order is an order request against the broker. Symbol is the broker's
// tradingsymbol namespace, which differs from the data feed's ticker
// namespace for the same contract.
type Order struct {
	Symbol       string
	Exchange     string // NFO for index options
	Side         OrderSide
	Type         OrderType
	Quantity     int
	Price        float64 // limit price, LIMIT orders
	TriggerPrice float64 // trigger, SL orders
	Product      string  // MIS for intraday
	Tag          string
}

// Position is an open broker position.
type Position struct {
	Symbol   string
	Exchange string
	Quantity int
	AvgPrice float64
}
