package funding

import "time"

// Rate represents one observed funding rate
type Rate struct {
	Asset     string    `json:"asset"`
	Exchange  string    `json:"exchange"`
	Rate      float64   `json:"rate"`
	Timestamp time.Time `json:"timestamp"`
}

// Stats represents funding rate statistics over the whole history of a key
type Stats struct {
	Key            string    `json:"key"`
	Count          int       `json:"count"`
	CurrentRate    float64   `json:"current_rate"`
	LastDelta      float64   `json:"last_delta"`
	Mean           float64   `json:"mean"`
	Variance       float64   `json:"variance"`
	StdDev         float64   `json:"std_dev"`
	Min            float64   `json:"min"`
	Max            float64   `json:"max"`
	AnnualizedRate float64   `json:"annualized_rate"`
	UpdatedAt      time.Time `json:"updated_at"`
}
