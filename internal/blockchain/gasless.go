package blockchain

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// SwapCall is a permit-authorized swap executed for User.
type SwapCall struct {
	User         common.Address
	TokenIn      common.Address
	TokenOut     common.Address
	AmountIn     *big.Int
	AmountOutMin *big.Int
	Deadline     *big.Int
	Signature    []byte
}

// GaslessSwapBuilder signs swap transactions from the operational account.
type GaslessSwapBuilder struct {
	key      *ecdsa.PrivateKey
	address  common.Address
	router   common.Address
	chainID  *big.Int
	gasLimit uint64
	abi      abi.ABI
}

func NewGaslessSwapBuilder(hexKey string, router common.Address, chainID *big.Int, gasLimit uint64) (*GaslessSwapBuilder, error) {
	key, address, err := parsePrivateKey(hexKey)
	if err != nil {
		return nil, err
	}
	return &GaslessSwapBuilder{
		key:      key,
		address:  address,
		router:   router,
		chainID:  new(big.Int).Set(chainID),
		gasLimit: gasLimit,
		abi:      mustParseABI(GaslessRouterABI),
	}, nil
}

// Address is the operator account paying for swaps.
func (b *GaslessSwapBuilder) Address() common.Address {
	return b.address
}

func (b *GaslessSwapBuilder) Router() common.Address {
	return b.router
}

// Pack encodes the executeSwapWithPermit call.
func (b *GaslessSwapBuilder) Pack(call *SwapCall) ([]byte, error) {
	data, err := b.abi.Pack(executeSwapWithPermit,
		call.User, call.TokenIn, call.TokenOut,
		call.AmountIn, call.AmountOutMin, call.Deadline, call.Signature)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", executeSwapWithPermit, err)
	}
	return data, nil
}

// Build returns the signed raw transaction and its hash.
func (b *GaslessSwapBuilder) Build(call *SwapCall, nonce uint64, gasPrice *big.Int) ([]byte, common.Hash, error) {
	data, err := b.Pack(call)
	if err != nil {
		return nil, common.Hash{}, err
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &b.router,
		Value:    big.NewInt(0),
		Gas:      b.gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.NewEIP155Signer(b.chainID), b.key)
	if err != nil {
		return nil, common.Hash{}, fmt.Errorf("failed to sign swap transaction: %w", err)
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return nil, common.Hash{}, fmt.Errorf("failed to encode swap transaction: %w", err)
	}
	return raw, signed.Hash(), nil
}
