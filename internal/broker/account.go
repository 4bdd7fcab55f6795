package broker

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/shopspring/decimal"
)

// DefaultAccountTimeout bounds a single account request.
const DefaultAccountTimeout = 10 * time.Second

// Account is the subset of the trading account used by connection checks.
type Account struct {
	ID          string
	Status      string
	BuyingPower decimal.Decimal
}

// AccountClient reads GET {tradingURL}/v2/account through the Alpaca SDK.
type AccountClient struct {
	client *alpaca.Client
}

// NewAccountClient creates an account client. An empty tradingURL selects the
// paper or live host depending on paper.
func NewAccountClient(apiKey, apiSecret, tradingURL string, paper bool, timeout time.Duration) *AccountClient {
	if tradingURL == "" {
		if paper {
			tradingURL = DefaultPaperTradingURL
		} else {
			tradingURL = DefaultLiveTradingURL
		}
	}
	if timeout <= 0 {
		timeout = DefaultAccountTimeout
	}
	return &AccountClient{
		client: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:     apiKey,
			APISecret:  apiSecret,
			BaseURL:    strings.TrimRight(tradingURL, "/"),
			HTTPClient: &http.Client{Timeout: timeout},
		}),
	}
}

type accountResult struct {
	account *alpaca.Account
	err     error
}

// GetAccount fetches the account. The SDK call has no context parameter, so
// cancellation abandons the in-flight request rather than aborting it; the
// HTTP client timeout still bounds it.
func (c *AccountClient) GetAccount(ctx context.Context) (*Account, error) {
	done := make(chan accountResult, 1)
	go func() {
		acct, err := c.client.GetAccount()
		done <- accountResult{account: acct, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: account request: %v", ErrTimeout, ctx.Err())
	case res := <-done:
		if res.err != nil {
			return nil, fmt.Errorf("account request: %w", res.err)
		}
		return &Account{
			ID:          res.account.ID,
			Status:      res.account.Status,
			BuyingPower: res.account.BuyingPower,
		}, nil
	}
}
