package relayer

import (
	"fmt"
	"math/big"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gasless-labs/feepayer/internal/blockchain"
	"github.com/gasless-labs/feepayer/internal/models"
	"github.com/gasless-labs/feepayer/pkg/validation"
)

// Validator evaluates DApp policy against a parsed transaction.
type Validator struct {
	gasPriceCeiling *big.Int
	minBalance      decimal.Decimal
	offset          *time.Location
	now             func() time.Time
}

func NewValidator(gasPriceCeiling *big.Int, minBalance decimal.Decimal, offsetHours int, now func() time.Time) *Validator {
	if now == nil {
		now = time.Now
	}
	return &Validator{
		gasPriceCeiling: gasPriceCeiling,
		minBalance:      minBalance,
		offset:          time.FixedZone(fmt.Sprintf("UTC%+d", offsetHours), offsetHours*3600),
		now:             now,
	}
}

// Validate runs the policy checks in order and returns the first failure.
func (v *Validator) Validate(dapp *models.DApp, tx *models.ParsedTx) error {
	if err := v.CheckGasPrice(tx.GasPrice); err != nil {
		return err
	}
	if err := v.CheckSwap(dapp, tx); err != nil {
		return err
	}
	if !dapp.Active {
		return newError(KindDAppInactive, "dapp is inactive", nil)
	}
	if !dapp.Balance.GreaterThan(v.minBalance) {
		return newError(KindInsufficientBalance, "dapp balance is insufficient", nil)
	}
	if dapp.TerminationDate != nil && IsTerminated(*dapp.TerminationDate, v.now(), v.offset) {
		return newError(KindDAppTerminated, "dapp is terminated", nil)
	}
	return nil
}

// CheckGasPrice rejects gas prices above the ceiling.
func (v *Validator) CheckGasPrice(gasPrice *big.Int) error {
	if gasPrice != nil && gasPrice.Cmp(v.gasPriceCeiling) > 0 {
		return &RelayError{
			Kind:    KindGasPriceTooHigh,
			Message: fmt.Sprintf("gas price %s exceeds ceiling %s", gasPrice, v.gasPriceCeiling),
		}
	}
	return nil
}

// CheckSwap is a no-op unless tx targets a swap-enabled contract of dapp.
func (v *Validator) CheckSwap(dapp *models.DApp, tx *models.ParsedTx) error {
	contract := dapp.SwapContract(tx.To)
	if contract == nil {
		return nil
	}
	if contract.SwapAddress == nil {
		return newError(KindSwapTokenNotWhitelisted, "swap contract has no whitelisted token", nil)
	}

	decoder, err := blockchain.SwapDecoderFor(dapp.SwapDecoder)
	if err != nil {
		return newError(KindSwapTokenNotWhitelisted, "swap call convention is not supported", err)
	}
	tokenIn, tokenOut, err := decoder.ExtractSwapTokens(tx.Data)
	if err != nil {
		return newError(KindSwapTokenNotWhitelisted, "swap call data could not be decoded", err)
	}

	want := validation.NormalizeAddress(*contract.SwapAddress)
	if validation.NormalizeAddress(tokenIn.Hex()) != want && validation.NormalizeAddress(tokenOut.Hex()) != want {
		return newError(KindSwapTokenNotWhitelisted, "swap does not involve the whitelisted token", nil)
	}
	return nil
}

// IsTerminated reports whether now is on or after the day following the
// termination date, both taken as calendar days in zone.
func IsTerminated(terminationDate, now time.Time, zone *time.Location) bool {
	t := terminationDate.In(zone)
	boundary := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, zone).AddDate(0, 0, 1)
	return !now.In(zone).Before(boundary)
}
