package blockchain

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// V2RouterABI covers the path-based router swaps.
const V2RouterABI = `[
	{"inputs":[{"name":"amountIn","type":"uint256"},{"name":"amountOutMin","type":"uint256"},{"name":"path","type":"address[]"},{"name":"to","type":"address"},{"name":"deadline","type":"uint256"}],"name":"swapExactTokensForTokens","outputs":[{"name":"amounts","type":"uint256[]"}],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"name":"amountOut","type":"uint256"},{"name":"amountInMax","type":"uint256"},{"name":"path","type":"address[]"},{"name":"to","type":"address"},{"name":"deadline","type":"uint256"}],"name":"swapTokensForExactTokens","outputs":[{"name":"amounts","type":"uint256[]"}],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"name":"amountIn","type":"uint256"},{"name":"amountOutMin","type":"uint256"},{"name":"path","type":"address[]"},{"name":"to","type":"address"},{"name":"deadline","type":"uint256"}],"name":"swapExactTokensForETH","outputs":[{"name":"amounts","type":"uint256[]"}],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"name":"amountOutMin","type":"uint256"},{"name":"path","type":"address[]"},{"name":"to","type":"address"},{"name":"deadline","type":"uint256"}],"name":"swapExactETHForTokens","outputs":[{"name":"amounts","type":"uint256[]"}],"stateMutability":"payable","type":"function"}
]`

// V3RouterABI covers the single-pool router swaps.
const V3RouterABI = `[
	{"inputs":[{"components":[{"name":"tokenIn","type":"address"},{"name":"tokenOut","type":"address"},{"name":"fee","type":"uint24"},{"name":"recipient","type":"address"},{"name":"deadline","type":"uint256"},{"name":"amountIn","type":"uint256"},{"name":"amountOutMinimum","type":"uint256"},{"name":"sqrtPriceLimitX96","type":"uint160"}],"name":"params","type":"tuple"}],"name":"exactInputSingle","outputs":[{"name":"amountOut","type":"uint256"}],"stateMutability":"payable","type":"function"},
	{"inputs":[{"components":[{"name":"tokenIn","type":"address"},{"name":"tokenOut","type":"address"},{"name":"fee","type":"uint24"},{"name":"recipient","type":"address"},{"name":"deadline","type":"uint256"},{"name":"amountOut","type":"uint256"},{"name":"amountInMaximum","type":"uint256"},{"name":"sqrtPriceLimitX96","type":"uint160"}],"name":"params","type":"tuple"}],"name":"exactOutputSingle","outputs":[{"name":"amountIn","type":"uint256"}],"stateMutability":"payable","type":"function"}
]`

// GaslessRouterABI is the permit-based swap entry point.
const GaslessRouterABI = `[
	{"inputs":[{"name":"user","type":"address"},{"name":"tokenIn","type":"address"},{"name":"tokenOut","type":"address"},{"name":"amountIn","type":"uint256"},{"name":"amountOutMin","type":"uint256"},{"name":"deadline","type":"uint256"},{"name":"signature","type":"bytes"}],"name":"executeSwapWithPermit","outputs":[],"stateMutability":"nonpayable","type":"function"}
]`

const executeSwapWithPermit = "executeSwapWithPermit"

var ErrUndecodableSwap = errors.New("undecodable swap call data")

// SwapDecoderKind tags a DApp's swap call convention.
type SwapDecoderKind string

const (
	SwapDecoderV2Router      SwapDecoderKind = "v2_router"
	SwapDecoderV3Router      SwapDecoderKind = "v3_router"
	SwapDecoderGaslessRouter SwapDecoderKind = "gasless_router"

	// DefaultSwapDecoder applies when a DApp has no tag.
	DefaultSwapDecoder = SwapDecoderV2Router
)

// SwapDecoder extracts the token pair a swap call trades.
type SwapDecoder interface {
	Kind() SwapDecoderKind
	ExtractSwapTokens(callData []byte) (tokenIn, tokenOut common.Address, err error)
}

var swapDecoders = map[SwapDecoderKind]SwapDecoder{
	SwapDecoderV2Router:      &v2RouterDecoder{abi: mustParseABI(V2RouterABI)},
	SwapDecoderV3Router:      &v3RouterDecoder{abi: mustParseABI(V3RouterABI)},
	SwapDecoderGaslessRouter: &gaslessRouterDecoder{abi: mustParseABI(GaslessRouterABI)},
}

// SwapDecoderFor returns the decoder for tag. An empty tag selects DefaultSwapDecoder.
func SwapDecoderFor(tag string) (SwapDecoder, error) {
	kind := SwapDecoderKind(strings.ToLower(strings.TrimSpace(tag)))
	if kind == "" {
		kind = DefaultSwapDecoder
	}
	decoder, ok := swapDecoders[kind]
	if !ok {
		return nil, fmt.Errorf("unknown swap decoder %q", tag)
	}
	return decoder, nil
}

func mustParseABI(definition string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(definition))
	if err != nil {
		panic(fmt.Sprintf("failed to parse ABI: %v", err))
	}
	return parsed
}

// unpackCall resolves the method by selector and unpacks its arguments.
func unpackCall(contractABI abi.ABI, callData []byte) (*abi.Method, []interface{}, error) {
	if len(callData) < 4 {
		return nil, nil, fmt.Errorf("%w: call data shorter than a selector", ErrUndecodableSwap)
	}
	method, err := contractABI.MethodById(callData[:4])
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrUndecodableSwap, err)
	}
	args, err := method.Inputs.Unpack(callData[4:])
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %v", ErrUndecodableSwap, method.Name, err)
	}
	return method, args, nil
}

type v2RouterDecoder struct {
	abi abi.ABI
}

func (d *v2RouterDecoder) Kind() SwapDecoderKind { return SwapDecoderV2Router }

func (d *v2RouterDecoder) ExtractSwapTokens(callData []byte) (common.Address, common.Address, error) {
	method, args, err := unpackCall(d.abi, callData)
	if err != nil {
		return common.Address{}, common.Address{}, err
	}
	for i, input := range method.Inputs {
		if input.Name != "path" {
			continue
		}
		path, ok := args[i].([]common.Address)
		if !ok || len(path) < 2 {
			return common.Address{}, common.Address{}, fmt.Errorf("%w: %s: invalid path", ErrUndecodableSwap, method.Name)
		}
		return path[0], path[len(path)-1], nil
	}
	return common.Address{}, common.Address{}, fmt.Errorf("%w: %s has no path", ErrUndecodableSwap, method.Name)
}

// v3SingleParams mirrors the exact*Single tuple field by field.
type v3SingleParams struct {
	TokenIn           common.Address
	TokenOut          common.Address
	Fee               *big.Int
	Recipient         common.Address
	Deadline          *big.Int
	Amount            *big.Int
	AmountLimit       *big.Int
	SqrtPriceLimitX96 *big.Int
}

type v3RouterDecoder struct {
	abi abi.ABI
}

func (d *v3RouterDecoder) Kind() SwapDecoderKind { return SwapDecoderV3Router }

func (d *v3RouterDecoder) ExtractSwapTokens(callData []byte) (common.Address, common.Address, error) {
	method, args, err := unpackCall(d.abi, callData)
	if err != nil {
		return common.Address{}, common.Address{}, err
	}
	if len(args) != 1 {
		return common.Address{}, common.Address{}, fmt.Errorf("%w: %s: unexpected arguments", ErrUndecodableSwap, method.Name)
	}
	params, ok := abi.ConvertType(args[0], new(v3SingleParams)).(*v3SingleParams)
	if !ok {
		return common.Address{}, common.Address{}, fmt.Errorf("%w: %s: unexpected tuple", ErrUndecodableSwap, method.Name)
	}
	return params.TokenIn, params.TokenOut, nil
}

type gaslessRouterDecoder struct {
	abi abi.ABI
}

func (d *gaslessRouterDecoder) Kind() SwapDecoderKind { return SwapDecoderGaslessRouter }

func (d *gaslessRouterDecoder) ExtractSwapTokens(callData []byte) (common.Address, common.Address, error) {
	method, args, err := unpackCall(d.abi, callData)
	if err != nil {
		return common.Address{}, common.Address{}, err
	}
	tokenIn, okIn := args[1].(common.Address)
	tokenOut, okOut := args[2].(common.Address)
	if !okIn || !okOut {
		return common.Address{}, common.Address{}, fmt.Errorf("%w: %s: unexpected token arguments", ErrUndecodableSwap, method.Name)
	}
	return tokenIn, tokenOut, nil
}
