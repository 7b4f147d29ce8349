//go:build profsnapdebug

package profiling

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanityCheckPanicsOutsideBuffer(t *testing.T) {
	buf := make([]byte, 64)
	ds := New(0x1000, 0x1000, buf, true, true)

	for _, addr := range []TargetAddress{0x1000 + 60, 0x1000 + 0x100000} {
		func() {
			defer func() {
				r := recover()
				require.NotNil(t, r, "no panic for %v", addr)
				msg, ok := r.(string)
				require.True(t, ok, "unexpected panic value %v", r)
				assert.Contains(t, msg, "profiling: local address")
				assert.Contains(t, msg, "outside Dataset{")
			}()
			_, _ = ds.FunctionInfo(addr)
		}()
	}

	// In range reads are unaffected.
	_, err := ds.FunctionInfo(0x1000)
	assert.NoError(t, err)
}
