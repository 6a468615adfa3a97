package evmexec

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// errorData is an ABI-encoded Error("Ownable: caller is not the owner").
var errorData = []byte{
	0x08, 0xc3, 0x79, 0xa0, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x20, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x20, 0x4f, 0x77, 0x6e, 0x61, 0x62, 0x6c, 0x65, 0x3a, 0x20, 0x63,
	0x61, 0x6c, 0x6c, 0x65, 0x72, 0x20, 0x69, 0x73, 0x20, 0x6e, 0x6f, 0x74, 0x20, 0x74, 0x68, 0x65, 0x20, 0x6f, 0x77, 0x6e, 0x65, 0x72,
}

var shortErrorData1 = []byte{0x08, 0xc3}

var shortErrorData2 = []byte{
	0x08, 0xc3, 0x79, 0xa0, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
}

var shortErrorData3 = []byte{
	0x08, 0xc3, 0x79, 0xa0, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x20, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00,
}

var shortErrorData4 = []byte{
	0x08, 0xc3, 0x79, 0xa0, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x20, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x20, 0x4f, 0x77, 0x6e, 0x61, 0x62, 0x6c, 0x65, 0x3a,
	0x20, 0x63, 0x61, 0x6c, 0x6c, 0x65, 0x72, 0x20, 0x69, 0x73, 0x20,
}

func TestGetErrorMessageFullDecode(t *testing.T) {
	assert.Equal(t, "execution failed: Ownable: caller is not the owner", GetErrorMessage(Failure, errorData, true))
}

func TestGetErrorMessageShortForm(t *testing.T) {
	assert.Equal(t, "execution failed", GetErrorMessage(Failure, errorData, false))
}

func TestGetErrorMessageTruncatedPayloads(t *testing.T) {
	for _, data := range [][]byte{shortErrorData1, shortErrorData2, shortErrorData3, shortErrorData4} {
		assert.Equal(t, "execution failed", GetErrorMessage(Failure, data, true))
	}
}

func TestGetErrorMessageRevertIgnoresData(t *testing.T) {
	// Only Failure gets the payload expansion.
	assert.Equal(t, "execution reverted", GetErrorMessage(Revert, errorData, true))
	assert.Equal(t, "execution reverted", GetErrorMessage(Revert, errorData, false))
}

func TestGetErrorMessageTable(t *testing.T) {
	cases := map[int]string{
		Failure:              "execution failed",
		Revert:               "execution reverted",
		OutOfGas:             "out of gas",
		InvalidInstruction:   "invalid instruction",
		UndefinedInstruction: "invalid opcode",
		StackOverflow:        "stack overflow",
		StackUnderflow:       "stack underflow",
		BadJumpDestination:   "invalid jump destination",
		InvalidMemoryAccess:  "invalid memory access",
		CallDepthExceeded:    "call depth exceeded",
		StaticModeViolation:  "static mode violation",
		PrecompileFailure:    "precompile failure",
	}
	for code, want := range cases {
		assert.Equal(t, want, GetErrorMessage(code, errorData, false), "code %d", code)
	}
}

func TestGetErrorMessageUnknownCode(t *testing.T) {
	assert.Equal(t, "unknown error code", GetErrorMessage(8888, errorData, false))
	assert.Equal(t, "unknown error code", GetErrorMessage(8888, nil, true))
}

func TestGetErrorMessageBadSelector(t *testing.T) {
	bad := append([]byte{0xde, 0xad, 0xbe, 0xef}, errorData[4:]...)
	assert.Equal(t, "execution failed", GetErrorMessage(Failure, bad, true))
}
