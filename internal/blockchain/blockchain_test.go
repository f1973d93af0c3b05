package blockchain

import (
	"crypto/ecdsa"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gasless-labs/feepayer/internal/models"
)

var testChainID = big.NewInt(1001)

const testFeePayerKey = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func signedTx(t *testing.T, key *ecdsa.PrivateKey, txType TxType, to *common.Address, gasPrice *big.Int, data []byte) *FeeDelegatedTx {
	t.Helper()
	tx := &FeeDelegatedTx{
		Type:     txType,
		Nonce:    7,
		GasPrice: gasPrice,
		Gas:      100_000,
		To:       to,
		Value:    big.NewInt(0),
		From:     crypto.PubkeyToAddress(key.PublicKey),
		Input:    data,
	}
	require.NoError(t, tx.SignAsSender(key, testChainID))
	return tx
}

func encodeTx(t *testing.T, tx *FeeDelegatedTx) string {
	t.Helper()
	raw, err := tx.MarshalBinary()
	require.NoError(t, err)
	return hexutil.Encode(raw)
}

func TestFeeDelegatedTx_SigningPayloads(t *testing.T) {
	to := common.HexToAddress("0x7b65B75d204aBed71587c9E519a89277766EE1d0")
	tx := &FeeDelegatedTx{
		Type:     TxTypeFeeDelegatedValueTransfer,
		Nonce:    1234,
		GasPrice: big.NewInt(0x19),
		Gas:      0xf4240,
		To:       &to,
		Value:    big.NewInt(10),
		From:     common.HexToAddress("0xa94f5374Fce5edBC8E2a8697C15331677e6EbF0B"),
		FeePayer: common.HexToAddress("0x5A0043070275d9f6054307Ee7348bD660849D90f"),
	}
	fields := "f4098204d219830f4240947b65b75d204abed71587c9e519a89277766ee1d00a94a94f5374fce5edbc8e2a8697c15331677e6ebf0b"

	sender, err := tx.senderSigningPayload(big.NewInt(1))
	require.NoError(t, err)
	assert.Equal(t, "0xf839b5"+fields+"018080", hexutil.Encode(sender))

	feePayer, err := tx.feePayerSigningPayload(big.NewInt(1))
	require.NoError(t, err)
	assert.Equal(t, "0xf84eb5"+fields+"945a0043070275d9f6054307ee7348bd660849d90f018080", hexutil.Encode(feePayer))
}

func TestParseRawTransaction(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	to := common.HexToAddress("0xAbCdEf0000000000000000000000000000000001")
	tx := signedTx(t, key, TxTypeFeeDelegatedSmartContractExecution, &to, big.NewInt(25_000_000_000), []byte{0xde, 0xad})

	parsed, err := ParseRawTransaction(encodeTx(t, tx), testChainID)
	require.NoError(t, err)
	assert.Equal(t, byte(TxTypeFeeDelegatedSmartContractExecution), parsed.Type)
	assert.Equal(t, "0xabcdef0000000000000000000000000000000001", parsed.To)
	assert.Equal(t, "0x"+common.Bytes2Hex(crypto.PubkeyToAddress(key.PublicKey).Bytes()), parsed.From)
	assert.Equal(t, int64(25_000_000_000), parsed.GasPrice.Int64())
	assert.Equal(t, []byte{0xde, 0xad}, parsed.Data)
	assert.Equal(t, uint64(7), parsed.Nonce)

	senderTxHash, err := tx.SenderTxHash()
	require.NoError(t, err)
	assert.Equal(t, senderTxHash, parsed.SenderTxHash)
}

func TestParseRawTransaction_AllTypes(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	to := common.HexToAddress("0x02")

	for _, tc := range []struct {
		txType TxType
		to     *common.Address
		wantTo string
	}{
		{TxTypeFeeDelegatedValueTransfer, &to, "0x0000000000000000000000000000000000000002"},
		{TxTypeFeeDelegatedValueTransferMemo, &to, "0x0000000000000000000000000000000000000002"},
		{TxTypeFeeDelegatedSmartContractDeploy, nil, ""},
		{TxTypeFeeDelegatedSmartContractExecution, &to, "0x0000000000000000000000000000000000000002"},
		{TxTypeFeeDelegatedCancel, nil, ""},
	} {
		t.Run(tc.txType.String(), func(t *testing.T) {
			tx := signedTx(t, key, tc.txType, tc.to, big.NewInt(1), []byte{0x60, 0x80})
			parsed, err := ParseRawTransaction(encodeTx(t, tx), testChainID)
			require.NoError(t, err)
			assert.Equal(t, tc.wantTo, parsed.To)
			assert.Equal(t, byte(tc.txType), parsed.Type)
		})
	}
}

func TestParseRawTransaction_WalletPlaceholders(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	to := common.HexToAddress("0x02")
	tx := signedTx(t, key, TxTypeFeeDelegatedValueTransfer, &to, big.NewInt(1), nil)
	tx.FeePayerSignatures = []TxSignature{{V: big.NewInt(1), R: big.NewInt(0), S: big.NewInt(0)}}

	_, err = ParseRawTransaction(encodeTx(t, tx), testChainID)
	require.NoError(t, err)
}

func TestParseRawTransaction_Malformed(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	legacy, err := types.SignTx(types.NewTx(&types.LegacyTx{Nonce: 1, Gas: 21000, GasPrice: big.NewInt(1)}),
		types.LatestSignerForChainID(testChainID), key)
	require.NoError(t, err)
	legacyRaw, err := legacy.MarshalBinary()
	require.NoError(t, err)

	for name, raw := range map[string]string{
		"empty":          "",
		"odd":            "0xabc",
		"garbage":        "0xdeadbeef",
		"not hex":        "0xzz",
		"truncated":      "0x09f800",
		"ratio type":     "0x0ac0",
		"legacy":         hexutil.Encode(legacyRaw),
		"missing fields": "0x31c3010203",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseRawTransaction(raw, testChainID)
			assert.ErrorIs(t, err, ErrMalformedTransaction)
		})
	}
}

func TestParseRawTransaction_WrongChain(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	to := common.HexToAddress("0x01")
	tx := signedTx(t, key, TxTypeFeeDelegatedValueTransfer, &to, big.NewInt(1), nil)

	_, err = ParseRawTransaction(encodeTx(t, tx), big.NewInt(8217))
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestParseRawTransaction_ForgedSender(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	to := common.HexToAddress("0x01")
	tx := signedTx(t, key, TxTypeFeeDelegatedValueTransfer, &to, big.NewInt(1), nil)
	tx.From = common.HexToAddress("0x00000000000000000000000000000000000000ee")

	_, err = ParseRawTransaction(encodeTx(t, tx), testChainID)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestFeePayer_Countersign(t *testing.T) {
	feePayer, err := NewFeePayer(testFeePayerKey, testChainID)
	require.NoError(t, err)

	userKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	to := common.HexToAddress("0x02")
	tx := signedTx(t, userKey, TxTypeFeeDelegatedSmartContractExecution, &to, big.NewInt(1), []byte{0x01})
	parsed, err := ParseRawTransaction(encodeTx(t, tx), testChainID)
	require.NoError(t, err)

	raw, err := feePayer.Countersign(parsed)
	require.NoError(t, err)
	assert.Equal(t, byte(TxTypeFeeDelegatedSmartContractExecution), raw[0])

	signed, err := DecodeFeeDelegatedTx(raw)
	require.NoError(t, err)
	assert.Equal(t, feePayer.Address(), signed.FeePayer)
	require.Len(t, signed.Signatures, 1)
	assert.Zero(t, tx.Signatures[0].R.Cmp(signed.Signatures[0].R), "sender signature must be carried untouched")
	assert.Zero(t, tx.Signatures[0].S.Cmp(signed.Signatures[0].S))

	recovered, err := signed.FeePayerSender(testChainID)
	require.NoError(t, err)
	assert.Equal(t, feePayer.Address(), recovered)

	sender, err := signed.Sender(testChainID)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(userKey.PublicKey), sender)

	senderTxHash, err := signed.SenderTxHash()
	require.NoError(t, err)
	assert.Equal(t, parsed.SenderTxHash, senderTxHash)
}

func TestFeeDelegatedTx_SignAsSenderWrongKey(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	to := common.HexToAddress("0x02")
	tx := &FeeDelegatedTx{Type: TxTypeFeeDelegatedValueTransfer, To: &to, From: common.HexToAddress("0x03")}
	assert.Error(t, tx.SignAsSender(key, testChainID))
}

func TestNewFeePayer_InvalidKey(t *testing.T) {
	_, err := NewFeePayer("0x1234", testChainID)
	assert.ErrorIs(t, err, ErrInvalidFeePayerKey)
}

func TestCountersign_Empty(t *testing.T) {
	feePayer, err := NewFeePayer(testFeePayerKey, testChainID)
	require.NoError(t, err)
	_, err = feePayer.Countersign(&models.ParsedTx{})
	assert.Error(t, err)
}

var (
	tokenA = common.HexToAddress("0x000000000000000000000000000000000000000a")
	tokenB = common.HexToAddress("0x000000000000000000000000000000000000000b")
	tokenC = common.HexToAddress("0x000000000000000000000000000000000000000c")
	user   = common.HexToAddress("0x00000000000000000000000000000000000000ee")
)

func TestSwapDecoder_V2Router(t *testing.T) {
	decoder, err := SwapDecoderFor("v2_router")
	require.NoError(t, err)
	routerABI := mustParseABI(V2RouterABI)

	data, err := routerABI.Pack("swapExactTokensForTokens",
		big.NewInt(100), big.NewInt(90), []common.Address{tokenA, tokenC, tokenB}, user, big.NewInt(1_700_000_000))
	require.NoError(t, err)
	in, out, err := decoder.ExtractSwapTokens(data)
	require.NoError(t, err)
	assert.Equal(t, tokenA, in)
	assert.Equal(t, tokenB, out)

	data, err = routerABI.Pack("swapExactETHForTokens",
		big.NewInt(90), []common.Address{tokenB, tokenA}, user, big.NewInt(1_700_000_000))
	require.NoError(t, err)
	in, out, err = decoder.ExtractSwapTokens(data)
	require.NoError(t, err)
	assert.Equal(t, tokenB, in)
	assert.Equal(t, tokenA, out)
}

func TestSwapDecoder_V2RouterShortPath(t *testing.T) {
	decoder, err := SwapDecoderFor("")
	require.NoError(t, err)
	assert.Equal(t, SwapDecoderV2Router, decoder.Kind())

	data, err := mustParseABI(V2RouterABI).Pack("swapExactTokensForTokens",
		big.NewInt(1), big.NewInt(1), []common.Address{tokenA}, user, big.NewInt(1))
	require.NoError(t, err)
	_, _, err = decoder.ExtractSwapTokens(data)
	assert.ErrorIs(t, err, ErrUndecodableSwap)
}

func TestSwapDecoder_V3Router(t *testing.T) {
	decoder, err := SwapDecoderFor("v3_router")
	require.NoError(t, err)
	routerABI := mustParseABI(V3RouterABI)

	params := struct {
		TokenIn           common.Address
		TokenOut          common.Address
		Fee               *big.Int
		Recipient         common.Address
		Deadline          *big.Int
		AmountIn          *big.Int
		AmountOutMinimum  *big.Int
		SqrtPriceLimitX96 *big.Int
	}{tokenA, tokenB, big.NewInt(3000), user, big.NewInt(1_700_000_000), big.NewInt(100), big.NewInt(90), big.NewInt(0)}

	data, err := routerABI.Pack("exactInputSingle", params)
	require.NoError(t, err)
	in, out, err := decoder.ExtractSwapTokens(data)
	require.NoError(t, err)
	assert.Equal(t, tokenA, in)
	assert.Equal(t, tokenB, out)
}

func TestSwapDecoder_GaslessRouter(t *testing.T) {
	decoder, err := SwapDecoderFor("gasless_router")
	require.NoError(t, err)

	data, err := mustParseABI(GaslessRouterABI).Pack(executeSwapWithPermit,
		user, tokenA, tokenB, big.NewInt(100), big.NewInt(90), big.NewInt(1_700_000_000), []byte{1, 2, 3})
	require.NoError(t, err)
	in, out, err := decoder.ExtractSwapTokens(data)
	require.NoError(t, err)
	assert.Equal(t, tokenA, in)
	assert.Equal(t, tokenB, out)
}

func TestSwapDecoder_Undecodable(t *testing.T) {
	for _, kind := range []string{"v2_router", "v3_router", "gasless_router"} {
		decoder, err := SwapDecoderFor(kind)
		require.NoError(t, err)

		_, _, err = decoder.ExtractSwapTokens([]byte{0x01})
		assert.ErrorIs(t, err, ErrUndecodableSwap, kind)

		_, _, err = decoder.ExtractSwapTokens([]byte{0xff, 0xff, 0xff, 0xff, 0x00})
		assert.ErrorIs(t, err, ErrUndecodableSwap, kind)
	}
}

func TestSwapDecoderFor_Unknown(t *testing.T) {
	_, err := SwapDecoderFor("curve")
	assert.Error(t, err)
}

func TestGaslessSwapBuilder_Build(t *testing.T) {
	router := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	builder, err := NewGaslessSwapBuilder(testFeePayerKey, router, testChainID, 500_000)
	require.NoError(t, err)

	call := &SwapCall{
		User:         user,
		TokenIn:      tokenA,
		TokenOut:     tokenB,
		AmountIn:     big.NewInt(100),
		AmountOutMin: big.NewInt(90),
		Deadline:     big.NewInt(1_700_000_000),
		Signature:    []byte{9, 9, 9},
	}
	raw, hash, err := builder.Build(call, 3, big.NewInt(25_000_000_000))
	require.NoError(t, err)

	tx := new(types.Transaction)
	require.NoError(t, tx.UnmarshalBinary(raw))
	assert.Equal(t, hash, tx.Hash())
	assert.Equal(t, uint64(3), tx.Nonce())
	assert.Equal(t, uint64(500_000), tx.Gas())
	assert.Equal(t, router, *tx.To())

	sender, err := types.Sender(types.NewEIP155Signer(testChainID), tx)
	require.NoError(t, err)
	assert.Equal(t, builder.Address(), sender)

	decoder, err := SwapDecoderFor("gasless_router")
	require.NoError(t, err)
	in, out, err := decoder.ExtractSwapTokens(tx.Data())
	require.NoError(t, err)
	assert.Equal(t, tokenA, in)
	assert.Equal(t, tokenB, out)
}
