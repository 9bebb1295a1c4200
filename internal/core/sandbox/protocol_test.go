package sandbox_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codegen/internal/core/sandbox"
)

func partialBlock(n int) string {
	items := ""
	for i := 0; i < n; i++ {
		if i > 0 {
			items += ","
		}
		items += fmt.Sprintf(`{"name":"item %d"}`, i)
	}
	return fmt.Sprintf(`%s
{"success":true,"data":[%s],"totalFound":%d,"isPartial":true,"executionTime":1.5}
%s`, sandbox.PartialStartMarker, items, n, sandbox.PartialEndMarker)
}

func TestParseStream(t *testing.T) {
	t.Parallel()

	t.Run("takes the last of three partial blocks after a timeout kill", func(t *testing.T) {
		t.Parallel()
		stream := "browser launched\n" +
			partialBlock(15) + "\nnavigating page 2\n" +
			partialBlock(30) + "\nnavigating page 3\n" +
			partialBlock(45) + "\n"

		res := sandbox.ParseStream(stream, true)
		assert.True(t, res.Success)
		assert.True(t, res.IsPartial)
		assert.Equal(t, 45, res.ItemCount())
		assert.Len(t, res.Data, 45)
	})

	t.Run("prefers a final block over later partials", func(t *testing.T) {
		t.Parallel()
		stream := partialBlock(10) + "\n" +
			sandbox.FinalStartMarker + "\n" +
			`{"success":true,"data":[{"name":"a"},{"name":"b"}],"totalFound":2,"executionTime":3.2}` + "\n" +
			sandbox.FinalEndMarker + "\n"

		res := sandbox.ParseStream(stream, false)
		require.True(t, res.Success)
		assert.False(t, res.IsPartial)
		assert.Equal(t, 2, res.ItemCount())
		assert.InDelta(t, 3.2, res.ExecutionTime, 0.001)
	})

	t.Run("timeout with captured partials never reports failure", func(t *testing.T) {
		t.Parallel()
		res := sandbox.ParseStream(partialBlock(7), true)
		assert.True(t, res.Success)
		assert.True(t, res.IsPartial)
		assert.NotEmpty(t, res.Warnings)
	})

	t.Run("no block at all is an empty success", func(t *testing.T) {
		t.Parallel()
		res := sandbox.ParseStream("just log noise\nno markers here\n", false)
		assert.True(t, res.Success)
		assert.Zero(t, res.ItemCount())
		assert.Empty(t, res.Errors)
	})

	t.Run("timeout with no block is a failure", func(t *testing.T) {
		t.Parallel()
		res := sandbox.ParseStream("launching browser\n", true)
		assert.False(t, res.Success)
		assert.NotEmpty(t, res.Errors)
	})

	t.Run("skips a malformed block and keeps the last well-formed one", func(t *testing.T) {
		t.Parallel()
		stream := partialBlock(5) + "\n" +
			sandbox.PartialStartMarker + "\n{not json}\n" + sandbox.PartialEndMarker + "\n"

		res := sandbox.ParseStream(stream, false)
		assert.Equal(t, 5, res.ItemCount())
	})

	t.Run("tolerates marker lines embedded in surrounding logs", func(t *testing.T) {
		t.Parallel()
		stream := "[info] run starting\n" + partialBlock(3) + "\n[warn] slow page\n"
		res := sandbox.ParseStream(stream, false)
		assert.Equal(t, 3, res.ItemCount())
		assert.True(t, res.IsPartial)
	})

	t.Run("a failed final block carries its error", func(t *testing.T) {
		t.Parallel()
		stream := sandbox.FinalStartMarker + "\n" +
			`{"success":false,"data":[],"totalFound":0,"error":"selector matched nothing"}` + "\n" +
			sandbox.FinalEndMarker
		res := sandbox.ParseStream(stream, false)
		assert.False(t, res.Success)
		assert.Contains(t, res.Errors, "selector matched nothing")
	})
}
