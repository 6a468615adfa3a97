package evmexec

import (
	"encoding/binary"
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/core/vm"
)

// Abort codes reported in CallResult.ErrorCode. Zero is success; 1000 marks
// a pre-check failure; the rest classify interpreter aborts.
const (
	Success              = 0
	Failure              = 1
	Revert               = 2
	OutOfGas             = 3
	InvalidInstruction   = 4
	UndefinedInstruction = 5
	StackOverflow        = 6
	StackUnderflow       = 7
	BadJumpDestination   = 8
	InvalidMemoryAccess  = 9
	CallDepthExceeded    = 10
	StaticModeViolation  = 11
	PrecompileFailure    = 12
	PreCheckFailed       = 1000
)

// revertSelector is the 4-byte selector of Error(string).
var revertSelector = [4]byte{0x08, 0xc3, 0x79, 0xa0}

// GetErrorMessage renders a stable human-readable message for an abort code.
// RPC clients match on these strings; they must not change.
//
// When full is true and the code is Failure (and only then), data is probed
// for an ABI-encoded Error(string); a well-formed payload yields
// "execution failed: <payload>", anything else falls back to the short form.
func GetErrorMessage(statusCode int, data []byte, full bool) string {
	var message string
	switch statusCode {
	case Failure:
		message = "execution failed"
	case Revert:
		message = "execution reverted"
	case OutOfGas:
		message = "out of gas"
	case InvalidInstruction:
		message = "invalid instruction"
	case UndefinedInstruction:
		message = "invalid opcode"
	case StackOverflow:
		message = "stack overflow"
	case StackUnderflow:
		message = "stack underflow"
	case BadJumpDestination:
		message = "invalid jump destination"
	case InvalidMemoryAccess:
		message = "invalid memory access"
	case CallDepthExceeded:
		message = "call depth exceeded"
	case StaticModeViolation:
		message = "static mode violation"
	case PrecompileFailure:
		message = "precompile failure"
	default:
		return "unknown error code"
	}

	if full && statusCode == Failure {
		if reason, ok := unpackRevertReason(data); ok {
			message = message + ": " + reason
		}
	}
	return message
}

// unpackRevertReason validates selector, offset and length before touching
// the payload; truncated buffers never panic, they just fail validation.
func unpackRevertReason(data []byte) (string, bool) {
	const headerLen = 4 + 32 + 32
	if len(data) < headerLen {
		return "", false
	}
	if [4]byte(data[:4]) != revertSelector {
		return "", false
	}
	offset := data[4 : 4+32]
	for _, b := range offset[:24] {
		if b != 0 {
			return "", false
		}
	}
	if binary.BigEndian.Uint64(offset[24:]) != 32 {
		return "", false
	}
	length := data[4+32 : headerLen]
	for _, b := range length[:24] {
		if b != 0 {
			return "", false
		}
	}
	strLen := binary.BigEndian.Uint64(length[24:])
	if uint64(len(data)-headerLen) < strLen {
		return "", false
	}
	return string(data[headerLen : headerLen+strLen]), true
}

// AbortCodeFromVMError classifies an interpreter error into an abort code.
func AbortCodeFromVMError(err error) int {
	if err == nil {
		return Success
	}
	switch {
	case errors.Is(err, vm.ErrExecutionReverted):
		return Revert
	case errors.Is(err, vm.ErrOutOfGas),
		errors.Is(err, vm.ErrCodeStoreOutOfGas),
		errors.Is(err, vm.ErrGasUintOverflow):
		return OutOfGas
	case errors.Is(err, vm.ErrInvalidJump):
		return BadJumpDestination
	case errors.Is(err, vm.ErrDepth):
		return CallDepthExceeded
	case errors.Is(err, vm.ErrWriteProtection):
		return StaticModeViolation
	case errors.Is(err, vm.ErrReturnDataOutOfBounds):
		return InvalidMemoryAccess
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "stack underflow"):
		return StackUnderflow
	case strings.Contains(msg, "stack limit reached"), strings.Contains(msg, "stack overflow"):
		return StackOverflow
	case strings.Contains(msg, "invalid opcode"):
		return UndefinedInstruction
	}
	return Failure
}
