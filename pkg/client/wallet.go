package client

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/jmerrifield20/MultiSigWallet/internal/eventlog"
)

// Info is the wallet overview returned by Wallet.
type Info struct {
	Owners           []common.Address
	Threshold        int
	Balance          *big.Int
	TransactionCount int
}

// Transaction is a proposed call as reported by the daemon.
type Transaction struct {
	Index            int            `json:"index"`
	To               common.Address `json:"to"`
	Value            *big.Int       `json:"-"`
	Data             hexutil.Bytes  `json:"data"`
	NumConfirmations int            `json:"num_confirmations"`
	Executed         bool           `json:"executed"`
	State            string         `json:"state"`
	SubmittedBy      common.Address `json:"submitted_by"`
	SubmittedAt      time.Time      `json:"submitted_at"`
	ExecutedAt       *time.Time     `json:"executed_at,omitempty"`
}

// UnmarshalJSON decodes the decimal string value the daemon sends.
func (t *Transaction) UnmarshalJSON(b []byte) error {
	type plain Transaction
	var wire struct {
		plain
		Value string `json:"value"`
	}
	if err := json.Unmarshal(b, &wire); err != nil {
		return err
	}
	*t = Transaction(wire.plain)
	t.Value = new(big.Int)
	if wire.Value != "" {
		if _, ok := t.Value.SetString(wire.Value, 10); !ok {
			return fmt.Errorf("transaction value %q is not an integer", wire.Value)
		}
	}
	return nil
}

// MarshalJSON encodes the value as a decimal string, as the daemon does.
func (t Transaction) MarshalJSON() ([]byte, error) {
	type plain Transaction
	value := "0"
	if t.Value != nil {
		value = t.Value.String()
	}
	return json.Marshal(struct {
		plain
		Value string `json:"value"`
	}{plain(t), value})
}

func parseDecimal(field, s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("%s %q is not an integer", field, s)
	}
	return v, nil
}

// Wallet returns the owner registry, balance and transaction count.
func (c *Client) Wallet(ctx context.Context) (*Info, error) {
	var wire struct {
		Owners           []common.Address `json:"owners"`
		Threshold        int              `json:"threshold"`
		Balance          string           `json:"balance"`
		TransactionCount int              `json:"transaction_count"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/wallet", false, nil, &wire); err != nil {
		return nil, err
	}
	balance, err := parseDecimal("balance", wire.Balance)
	if err != nil {
		return nil, err
	}
	return &Info{
		Owners:           wire.Owners,
		Threshold:        wire.Threshold,
		Balance:          balance,
		TransactionCount: wire.TransactionCount,
	}, nil
}

// Deposit credits amount to the wallet and returns the new balance.
func (c *Client) Deposit(ctx context.Context, amount *big.Int) (*big.Int, error) {
	var wire struct {
		Balance string `json:"balance"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/wallet/deposits", true,
		map[string]string{"amount": amount.String()}, &wire); err != nil {
		return nil, err
	}
	return parseDecimal("balance", wire.Balance)
}

// Submit proposes a call and returns its transaction index.
func (c *Client) Submit(ctx context.Context, to common.Address, value *big.Int, data []byte) (int, error) {
	if value == nil {
		value = new(big.Int)
	}
	req := map[string]string{"to": to.Hex(), "value": value.String()}
	if len(data) > 0 {
		req["data"] = hexutil.Encode(data)
	}
	var tx Transaction
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/transactions", true, req, &tx); err != nil {
		return -1, err
	}
	return tx.Index, nil
}

// Confirm records the caller's confirmation of transaction idx.
func (c *Client) Confirm(ctx context.Context, idx int) (*Transaction, error) {
	return c.mutate(ctx, idx, "confirm")
}

// Revoke withdraws the caller's confirmation of transaction idx.
func (c *Client) Revoke(ctx context.Context, idx int) (*Transaction, error) {
	return c.mutate(ctx, idx, "revoke")
}

// Execute performs transaction idx.
func (c *Client) Execute(ctx context.Context, idx int) (*Transaction, error) {
	return c.mutate(ctx, idx, "execute")
}

func (c *Client) mutate(ctx context.Context, idx int, action string) (*Transaction, error) {
	var tx Transaction
	path := fmt.Sprintf("/api/v1/transactions/%d/%s", idx, action)
	if err := c.doJSON(ctx, http.MethodPost, path, true, nil, &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

// Transaction returns transaction idx.
func (c *Client) Transaction(ctx context.Context, idx int) (*Transaction, error) {
	var tx Transaction
	if err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/api/v1/transactions/%d", idx), false, nil, &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

// Transactions returns a page of transactions and the total count.
func (c *Client) Transactions(ctx context.Context, offset, limit int) ([]Transaction, int, error) {
	q := url.Values{}
	q.Set("offset", strconv.Itoa(offset))
	q.Set("limit", strconv.Itoa(limit))

	var wire struct {
		Transactions []Transaction `json:"transactions"`
		Total        int           `json:"total"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/transactions?"+q.Encode(), false, nil, &wire); err != nil {
		return nil, 0, err
	}
	return wire.Transactions, wire.Total, nil
}

// Confirmations returns the owners that confirmed transaction idx, in
// registry order.
func (c *Client) Confirmations(ctx context.Context, idx int) ([]common.Address, error) {
	var wire struct {
		Owners []common.Address `json:"owners"`
	}
	if err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/api/v1/transactions/%d/confirmations", idx), false, nil, &wire); err != nil {
		return nil, err
	}
	return wire.Owners, nil
}

// IsConfirmed reports whether owner has confirmed transaction idx.
func (c *Client) IsConfirmed(ctx context.Context, idx int, owner common.Address) (bool, error) {
	var wire struct {
		Confirmed bool `json:"confirmed"`
	}
	path := fmt.Sprintf("/api/v1/transactions/%d/confirmations/%s", idx, owner.Hex())
	if err := c.doJSON(ctx, http.MethodGet, path, false, nil, &wire); err != nil {
		return false, err
	}
	return wire.Confirmed, nil
}

// Events returns a page of the event log with its length and root hash.
func (c *Client) Events(ctx context.Context, offset, limit int) ([]eventlog.Entry, int, string, error) {
	q := url.Values{}
	q.Set("offset", strconv.Itoa(offset))
	q.Set("limit", strconv.Itoa(limit))

	var wire struct {
		Entries []eventlog.Entry `json:"entries"`
		Total   int              `json:"total"`
		Root    string           `json:"root"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/events?"+q.Encode(), false, nil, &wire); err != nil {
		return nil, 0, "", err
	}
	return wire.Entries, wire.Total, wire.Root, nil
}

// VerifyEvents asks the daemon to walk the event log. A broken chain is
// reported as a non-nil error.
func (c *Client) VerifyEvents(ctx context.Context) error {
	var wire struct {
		Valid bool   `json:"valid"`
		Error string `json:"error"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/events/verify", false, nil, &wire); err != nil {
		return err
	}
	if !wire.Valid {
		return fmt.Errorf("event log invalid: %s", wire.Error)
	}
	return nil
}
