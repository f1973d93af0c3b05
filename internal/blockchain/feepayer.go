package blockchain

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/gasless-labs/feepayer/internal/models"
)

var ErrInvalidFeePayerKey = errors.New("invalid fee payer private key")

// FeePayer countersigns user transactions.
type FeePayer struct {
	key     *ecdsa.PrivateKey
	address common.Address
	chainID *big.Int
}

var _ models.FeePayerSigner = (*FeePayer)(nil)

func NewFeePayer(hexKey string, chainID *big.Int) (*FeePayer, error) {
	key, address, err := parsePrivateKey(hexKey)
	if err != nil {
		return nil, err
	}
	return &FeePayer{key: key, address: address, chainID: new(big.Int).Set(chainID)}, nil
}

func parsePrivateKey(hexKey string) (*ecdsa.PrivateKey, common.Address, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("%w: %v", ErrInvalidFeePayerKey, err)
	}
	return key, crypto.PubkeyToAddress(key.PublicKey), nil
}

func (f *FeePayer) Address() common.Address {
	return f.address
}

// Countersign fills in the fee payer and its signature and returns the fully
// signed encoding. Placeholder fee payer fields sent by the wallet are
// overwritten.
func (f *FeePayer) Countersign(tx *models.ParsedTx) ([]byte, error) {
	if tx == nil || len(tx.Raw) == 0 {
		return nil, fmt.Errorf("nothing to countersign")
	}
	decoded, err := DecodeFeeDelegatedTx(tx.Raw)
	if err != nil {
		return nil, err
	}
	if err := decoded.SignAsFeePayer(f.key, f.chainID); err != nil {
		return nil, err
	}
	raw, err := decoded.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to encode fee delegated transaction: %w", err)
	}
	return raw, nil
}
