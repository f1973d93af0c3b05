package blockchain

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/gasless-labs/feepayer/internal/models"
	"github.com/gasless-labs/feepayer/pkg/validation"
)

var (
	ErrMalformedTransaction = errors.New("malformed transaction")
	ErrInvalidSignature     = errors.New("invalid transaction signature")
)

// ParseRawTransaction decodes a hex encoded, sender-signed fee-delegated
// transaction and checks that its signature belongs to the declared sender
// on chainID.
func ParseRawTransaction(raw string, chainID *big.Int) (*models.ParsedTx, error) {
	data, err := validation.DecodeHex(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedTransaction, err)
	}

	tx, err := DecodeFeeDelegatedTx(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedTransaction, err)
	}

	signer, err := tx.Sender(chainID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if signer != tx.From {
		return nil, fmt.Errorf("%w: signed by %s, not sender %s", ErrInvalidSignature, signer.Hex(), tx.From.Hex())
	}

	senderTxHash, err := tx.SenderTxHash()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedTransaction, err)
	}

	parsed := &models.ParsedTx{
		Type:         byte(tx.Type),
		Nonce:        tx.Nonce,
		Gas:          tx.Gas,
		SenderTxHash: senderTxHash,
		Raw:          data,
		From:         validation.NormalizeAddress(tx.From.Hex()),
		GasPrice:     tx.GasPrice,
		Data:         tx.Input,
	}
	if tx.To != nil {
		parsed.To = validation.NormalizeAddress(tx.To.Hex())
	}
	return parsed, nil
}
