package domain

// Broker product codes on net positions.
const (
	ProductMIS  = "MIS"
	ProductCNC  = "CNC"
	ProductNRML = "NRML"
)

// ModeForProduct maps a broker product code to the monitoring mode applied
// to the position.
func ModeForProduct(product string) Mode {
	switch product {
	case ProductMIS:
		return ModeIntraday
	case ProductNRML:
		return ModeFutures
	default:
		return ModeSwing
	}
}

// BrokerPosition is one net broker position for the day.
type BrokerPosition struct {
	Symbol       string  `json:"symbol"`
	Exchange     string  `json:"exchange"`
	Product      string  `json:"product"`
	Quantity     int     `json:"quantity"`
	AveragePrice float64 `json:"average_price"`
	LastPrice    float64 `json:"last_price"`
	PnL          float64 `json:"pnl"`
}

// Holding is one demat holding.
type Holding struct {
	Symbol       string  `json:"symbol"`
	Exchange     string  `json:"exchange"`
	Quantity     int     `json:"quantity"`
	AveragePrice float64 `json:"average_price"`
	LastPrice    float64 `json:"last_price"`
	PnL          float64 `json:"pnl"`
}
