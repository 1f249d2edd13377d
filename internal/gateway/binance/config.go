package binance

import "time"

// Config describes how to reach the Binance USD-M futures API.
type Config struct {
	RESTBaseURL string
	APIKey      string
	APISecret   string
	Testnet     bool
	HTTPTimeout time.Duration
	ProxyURL    string

	BreakerThreshold int
	BreakerTimeout   time.Duration
}

func (c Config) withDefaults() Config {
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 10 * time.Second
	}
	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = 5
	}
	if c.BreakerTimeout <= 0 {
		c.BreakerTimeout = 30 * time.Second
	}
	return c
}
