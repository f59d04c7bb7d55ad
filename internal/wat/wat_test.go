package wat

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wasmtier/wasmtier/wasmerr"
)

func TestLookup_unknown(t *testing.T) {
	_, err := Lookup("wabt")
	require.ErrorIs(t, err, wasmerr.ErrSourceUnreadable)
	require.Contains(t, err.Error(), `unknown text converter "wabt" (known: wasmer, wasmtime)`)
}

func TestLookup(t *testing.T) {
	available := Available()
	for _, name := range known {
		c, err := Lookup(name)
		if !contains(available, name) {
			require.ErrorIs(t, err, wasmerr.ErrSourceUnreadable)
			require.Contains(t, err.Error(), "requires a cgo build")
			continue
		}
		require.NoError(t, err)
		require.Equal(t, name, c.Name())
	}
}

func TestConvert(t *testing.T) {
	const text = `(module $add
  (func (export "add") (param i32 i32) (result i32)
    local.get 0
    local.get 1
    i32.add))`

	if len(Available()) == 0 {
		t.Skip("no text converter in this build")
	}
	for _, name := range Available() {
		t.Run(name, func(t *testing.T) {
			c, err := Lookup(name)
			require.NoError(t, err)

			bin, err := c.Convert(text)
			require.NoError(t, err)
			require.Equal(t, []byte{0, 'a', 's', 'm', 1, 0, 0, 0}, bin[:8])

			_, err = c.Convert("(module (func (export \"f\") i32.bogus))")
			require.ErrorIs(t, err, wasmerr.ErrSourceUnreadable)
		})
	}
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
