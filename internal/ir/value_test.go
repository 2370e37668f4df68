package ir

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainRenderers(t *testing.T) {
	addr := common.HexToAddress("0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed")
	assert.Equal(t, String("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"), Address(addr))
	assert.Equal(t, String("1000000000000000000"), Amount(uint256.NewInt(1_000_000_000_000_000_000)))
	assert.Equal(t, String("0"), Amount(nil))
	assert.Equal(t, String("0xdeadbeef"), Hex([]byte{0xde, 0xad, 0xbe, 0xef}))
	assert.Equal(t, String("0x"), Hex(nil))
}

func TestUnmarshalValueRejectsFloatsAndNull(t *testing.T) {
	_, err := UnmarshalValue([]byte(`{"fee": 1.5}`))
	assert.ErrorContains(t, err, "floats are forbidden")

	_, err = UnmarshalValue([]byte(`{"fee": null}`))
	assert.ErrorContains(t, err, "null is forbidden")

	_, err = UnmarshalValue([]byte(`1e3`))
	assert.Error(t, err)
}

func TestUnmarshalValueNested(t *testing.T) {
	v, err := UnmarshalValue([]byte(`{"changes":[{"action":"add","selectors":["0x01"]}],"count":2}`))
	require.NoError(t, err)

	obj, ok := v.(Object)
	require.True(t, ok)
	assert.Equal(t, Int(2), obj["count"])
	changes := obj["changes"].(Array)
	require.Len(t, changes, 1)
	assert.Equal(t, String("add"), changes[0].(Object)["action"])
}

func TestObjectUnmarshalJSONRequiresObject(t *testing.T) {
	var obj Object
	assert.Error(t, obj.UnmarshalJSON([]byte(`[1,2]`)))
}

func TestFromGoYAMLStyleValues(t *testing.T) {
	v, err := FromGo(map[string]any{"n": 5, "ok": true, "list": []any{"a"}})
	require.NoError(t, err)
	assert.Equal(t, Object{"n": Int(5), "ok": Bool(true), "list": Array{String("a")}}, v)
}
