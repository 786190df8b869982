package cardano

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"
)

var (
	// ErrInvalidTxHash is returned for hashes that are not 64 hex characters
	ErrInvalidTxHash = errors.New("cardano: invalid transaction hash")
	// ErrNoPayment is returned when no output of the transaction pays the wallet
	ErrNoPayment = errors.New("cardano: transaction does not pay the wallet")
	// ErrInsufficientPayment is returned when the wallet received less than expected
	ErrInsufficientPayment = errors.New("cardano: insufficient payment")
)

var (
	txHashPattern  = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)
	addressPattern = regexp.MustCompile(`^addr(_test)?1[a-z0-9]{50,}$`)
)

// ValidTxHash reports whether s looks like a Cardano transaction hash
func ValidTxHash(s string) bool {
	return txHashPattern.MatchString(s)
}

// NormalizeTxHash returns the canonical lowercase form of a transaction hash.
// Hex is case-insensitive, so every spelling of one transaction maps to the same key.
func NormalizeTxHash(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ValidAddress reports whether s looks like a mainnet or testnet Shelley address
func ValidAddress(s string) bool {
	return addressPattern.MatchString(s)
}

// TxSource looks up transactions and addresses
type TxSource interface {
	GetTxInfo(ctx context.Context, txHash string) (*TxInfo, error)
	GetAddressInfo(ctx context.Context, address string) (*AddressInfo, error)
}

// Receipt is a verified payment to the wallet
type Receipt struct {
	TxHash      string
	AmountADA   float64
	BlockHeight int64
	Timestamp   time.Time
}

// Verifier checks that transactions pay the configured wallet
type Verifier struct {
	source TxSource
	wallet string
}

// NewVerifier creates a verifier for payments to wallet
func NewVerifier(source TxSource, wallet string) (*Verifier, error) {
	if !ValidAddress(wallet) {
		return nil, fmt.Errorf("invalid payment wallet address %q", wallet)
	}
	return &Verifier{source: source, wallet: wallet}, nil
}

// Wallet returns the address payments must be sent to
func (v *Verifier) Wallet() string {
	return v.wallet
}

// Verify sums the outputs of txHash paid to the wallet and accepts the transaction when
// the total is at least the expected amount minus 1%.
func (v *Verifier) Verify(ctx context.Context, txHash string, expectedADA float64) (*Receipt, error) {
	txHash = NormalizeTxHash(txHash)
	if !ValidTxHash(txHash) {
		return nil, ErrInvalidTxHash
	}

	tx, err := v.source.GetTxInfo(ctx, txHash)
	if err != nil {
		return nil, fmt.Errorf("failed to look up transaction: %w", err)
	}

	var (
		received int64
		found    bool
	)
	for i, out := range tx.Outputs {
		if out.PaymentAddr.Bech32 != v.wallet {
			continue
		}
		amount, err := ParseLovelace(out.Value)
		if err != nil {
			return nil, fmt.Errorf("output %d: %w", i, err)
		}
		received += amount
		found = true
	}

	slog.Debug("Checked transaction outputs",
		"tx", txHash, "outputs", len(tx.Outputs), "received_lovelace", received, "expected_ada", expectedADA)

	if !found {
		return nil, ErrNoPayment
	}

	expected := ToLovelace(expectedADA)
	if received < expected-expected/100 {
		return nil, fmt.Errorf("%w: received %.6f ADA, expected %.6f ADA", ErrInsufficientPayment, ToADA(received), expectedADA)
	}

	receipt := &Receipt{
		TxHash:    txHash,
		AmountADA: ToADA(received),
		Timestamp: tx.Time(),
	}
	if tx.BlockHeight != nil {
		receipt.BlockHeight = *tx.BlockHeight
	}
	return receipt, nil
}

// Balance returns the wallet balance in ADA
func (v *Verifier) Balance(ctx context.Context) (float64, error) {
	info, err := v.source.GetAddressInfo(ctx, v.wallet)
	if err != nil {
		return 0, fmt.Errorf("failed to look up wallet: %w", err)
	}
	lovelace, err := ParseLovelace(info.Balance)
	if err != nil {
		return 0, err
	}
	return ToADA(lovelace), nil
}
