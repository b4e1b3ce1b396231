package coffee

import (
	"errors"
	"fmt"
)

// Code is a stable error identifier surfaced to callers on failed
// transitions. Codes never change once released; clients match on them.
type Code string

const (
	CodePaused             Code = "Paused"
	CodeUnauthorized       Code = "Unauthorized"
	CodeStaleOracle        Code = "StaleOracle"
	CodeNonceReplay        Code = "NonceReplay"
	CodePriceBand          Code = "PriceBand"
	CodeInsufficientMargin Code = "InsufficientMargin"
	CodeMarginNotCalled    Code = "MarginNotCalled"
	CodeGraceNotElapsed    Code = "GraceNotElapsed"
	CodeAlreadySettled     Code = "AlreadySettled"
	CodeNotSettled         Code = "NotSettled"
	CodeReentrancy         Code = "Reentrancy"
	CodeDeadlineNotReached Code = "DeadlineNotReached"
	CodeBadMerkleProof     Code = "BadMerkleProof"
	CodeExceedsQuantity    Code = "ExceedsQuantity"
	CodeCapExceeded        Code = "CapExceeded"
	CodeMathOverflow       Code = "MathOverflow"
	CodeDustTransfer       Code = "DustTransfer"

	CodeZeroPrice            Code = "ZeroPrice"
	CodeZeroQty              Code = "ZeroQty"
	CodeZeroAmount           Code = "ZeroAmount"
	CodeBadMarginParams      Code = "BadMarginParams"
	CodeTooManyAssets        Code = "TooManyAssets"
	CodeInvalidAssetBasket   Code = "InvalidAssetBasket"
	CodeMerkleProofMissing   Code = "MerkleProofMissing"
	CodeProofTooLarge        Code = "ProofTooLarge"
	CodeVersionMismatch      Code = "VersionMismatch"
	CodeRotationNotEffective Code = "RotationNotEffective"
	CodeNoPendingRotation    Code = "NoPendingRotation"
	CodeCannotCancel         Code = "CannotCancel"
	CodeMintDecimalsMismatch Code = "MintDecimalsMismatch"
	CodeInvalidCounterparty  Code = "InvalidCounterparty"
	CodeUnknownMarket        Code = "UnknownMarket"
	CodeUnknownDeal          Code = "UnknownDeal"
	CodeDealExists           Code = "DealExists"
	CodeMarketExists         Code = "MarketExists"
	CodeInvalidTwapWindow    Code = "InvalidTwapWindow"
)

// Error carries a stable code plus a human-readable message.
type Error struct {
	Code Code
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

// Errf builds a coded error with a formatted message.
func Errf(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Err builds a bare coded error.
func Err(code Code) *Error {
	return &Error{Code: code}
}

// IsCode reports whether err (or anything it wraps) carries the given code.
func IsCode(err error, code Code) bool {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code == code
	}
	return false
}

// CodeOf extracts the code from err, or "" if err carries none.
func CodeOf(err error) Code {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}
