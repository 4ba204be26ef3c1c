package rpc

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

// TestParamsArraySingleValueUnwrapping is property 3: `[x]` and bare `x`
// must normalize to the same one-element positional slice.
func TestParamsArraySingleValueUnwrapping(t *testing.T) {
	asArray, err := paramsArray(json.RawMessage(`["0x1"]`))
	require.NoError(t, err)
	require.Len(t, asArray, 1)

	asBare, err := paramsArray(json.RawMessage(`"0x1"`))
	require.NoError(t, err)
	require.Len(t, asBare, 1)

	require.JSONEq(t, string(asArray[0]), string(asBare[0]))
}

func TestParamsArrayPositional(t *testing.T) {
	arr, err := paramsArray(json.RawMessage(`[1,2,3]`))
	require.NoError(t, err)
	require.Len(t, arr, 3)
	require.Equal(t, "1", string(arr[0]))
	require.Equal(t, "2", string(arr[1]))
	require.Equal(t, "3", string(arr[2]))
}

func TestParamsArrayEmptyOrNull(t *testing.T) {
	arr, err := paramsArray(nil)
	require.NoError(t, err)
	require.Nil(t, arr)

	arr, err = paramsArray(json.RawMessage(`null`))
	require.NoError(t, err)
	require.Nil(t, arr)
}

func TestParamsArrayInvalidJSON(t *testing.T) {
	_, err := paramsArray(json.RawMessage(`not json`))
	require.Error(t, err)
}

func TestDecodeAddress(t *testing.T) {
	addr, err := decodeAddress(json.RawMessage(`"0x295a70b2de5e3953354a6a8344e616ed314d7251"`))
	require.NoError(t, err)
	require.Equal(t, "0x295A70B2De5e3953354a6a8344e616eD314D7251", addr.Hex())
}

func TestDecodeAddressRejectsInvalid(t *testing.T) {
	_, err := decodeAddress(json.RawMessage(`"not-an-address"`))
	require.Error(t, err)
}

// TestDecodeU256HexAndDecimal covers the hex-or-decimal acceptance rule
// spec.md §4.B requires for quantities, reused by eth_feeHistory's count.
func TestDecodeU256HexAndDecimal(t *testing.T) {
	hex, err := decodeU256(json.RawMessage(`"0x4"`))
	require.NoError(t, err)
	require.EqualValues(t, 4, hex.Uint64())

	dec, err := decodeU256(json.RawMessage(`"4"`))
	require.NoError(t, err)
	require.EqualValues(t, 4, dec.Uint64())

	num, err := decodeU256(json.RawMessage(`4`))
	require.NoError(t, err)
	require.EqualValues(t, 4, num.Uint64())
}

func TestDecodeIndexHexOrDecimal(t *testing.T) {
	var i Index
	require.NoError(t, i.UnmarshalJSON([]byte(`"0xa"`)))
	require.EqualValues(t, 10, i)

	require.NoError(t, i.UnmarshalJSON([]byte(`"10"`)))
	require.EqualValues(t, 10, i)

	require.NoError(t, i.UnmarshalJSON([]byte(`10`)))
	require.EqualValues(t, 10, i)
}

func TestDecodeBlockTagNamedAndNumeric(t *testing.T) {
	tag, err := decodeBlockTag(json.RawMessage(`"latest"`))
	require.NoError(t, err)
	require.True(t, tag.IsTag)
	require.Equal(t, "latest", tag.Tag)

	tag, err = decodeBlockTag(json.RawMessage(`"0x4"`))
	require.NoError(t, err)
	require.False(t, tag.IsTag)
	require.EqualValues(t, 4, tag.Number)
}

// TestFeeHistoryParamsDecode is scenario S4: both array forms of
// eth_feeHistory's params must decode to the same typed shape.
func TestFeeHistoryParamsDecode(t *testing.T) {
	arr, err := paramsArray(json.RawMessage(`[4,"latest",[25,75]]`))
	require.NoError(t, err)
	require.Len(t, arr, 3)

	count, err := decodeQuantity(arr[0])
	require.NoError(t, err)
	require.EqualValues(t, 4, count)

	tag, err := decodeBlockTag(arr[1])
	require.NoError(t, err)
	require.True(t, tag.IsTag)
	require.Equal(t, "latest", tag.Tag)

	var percentiles []float64
	require.NoError(t, json.Unmarshal(arr[2], &percentiles))
	require.Equal(t, []float64{25, 75}, percentiles)

	arr2, err := paramsArray(json.RawMessage(`["0x4","latest",[]]`))
	require.NoError(t, err)
	count2, err := decodeQuantity(arr2[0])
	require.NoError(t, err)
	require.Equal(t, count, count2)
}

func TestEncodeQuantityMinimalHex(t *testing.T) {
	require.Equal(t, "0x0", EncodeQuantity(0))
	require.Equal(t, "0x1", EncodeQuantity(1))
	require.Equal(t, "0x10", EncodeQuantity(16))
}

// TestEncodeHash32ZeroStorageSlot is scenario S2: a fresh state's
// storage slot reads back as the full-width zero hash.
func TestEncodeHash32ZeroStorageSlot(t *testing.T) {
	h := EncodeHash32(common.Hash{})
	require.Equal(t, "0x"+strings.Repeat("0", 64), h)
	require.Len(t, h, 66)
}
