package cardano

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// LovelacePerADA is the number of lovelace in one ADA
const LovelacePerADA = 1_000_000

// PaymentAddr is the address part of a transaction output
type PaymentAddr struct {
	Bech32 string `json:"bech32"`
	Cred   string `json:"cred"`
}

// TxOutput is one output of a transaction
type TxOutput struct {
	PaymentAddr PaymentAddr `json:"payment_addr"`
	Value       string      `json:"value"` // lovelace
}

// TxInfo represents a transaction as returned by /tx_info
type TxInfo struct {
	TxHash      string     `json:"tx_hash"`
	BlockHeight *int64     `json:"block_height"`
	TxTimestamp int64      `json:"tx_timestamp"`
	Fee         string     `json:"fee"`
	TxSize      int        `json:"tx_size"`
	Outputs     []TxOutput `json:"outputs"`
}

// Confirmed reports whether the transaction is in a block
func (t *TxInfo) Confirmed() bool {
	return t.BlockHeight != nil
}

// Time returns the transaction timestamp
func (t *TxInfo) Time() time.Time {
	return time.Unix(t.TxTimestamp, 0)
}

// AddressInfo represents an address as returned by /address_info
type AddressInfo struct {
	Address string `json:"address"`
	Balance string `json:"balance"` // lovelace
}

// GetTxInfo retrieves a transaction by hash
func (c *Client) GetTxInfo(ctx context.Context, txHash string) (*TxInfo, error) {
	var txs []TxInfo
	payload := map[string][]string{"_tx_hashes": {txHash}}
	if err := c.post(ctx, "/tx_info", payload, &txs); err != nil {
		return nil, err
	}

	if len(txs) == 0 {
		return nil, ErrTxNotFound
	}
	return &txs[0], nil
}

// GetAddressInfo retrieves the balance of an address
func (c *Client) GetAddressInfo(ctx context.Context, address string) (*AddressInfo, error) {
	var infos []AddressInfo
	payload := map[string][]string{"_addresses": {address}}
	if err := c.post(ctx, "/address_info", payload, &infos); err != nil {
		if errors.Is(err, ErrTxNotFound) {
			return nil, ErrAddressNotFound
		}
		return nil, err
	}

	if len(infos) == 0 {
		return nil, ErrAddressNotFound
	}
	return &infos[0], nil
}

// ParseLovelace parses a lovelace amount as returned by Koios
func ParseLovelace(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid lovelace amount %q: %w", s, err)
	}
	if v < 0 {
		return 0, fmt.Errorf("invalid lovelace amount %q: negative", s)
	}
	return v, nil
}

// ToADA converts lovelace to ADA
func ToADA(lovelace int64) float64 {
	return float64(lovelace) / LovelacePerADA
}

// ToLovelace converts ADA to lovelace, rounding to the nearest unit
func ToLovelace(ada float64) int64 {
	return int64(ada*LovelacePerADA + 0.5)
}
