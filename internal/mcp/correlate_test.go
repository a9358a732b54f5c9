package mcp

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/dcbridge/dcbridge/internal/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func responseFrame(id int64, result string) *frame {
	return &frame{JSONRPC: "2.0", ID: &id, Result: json.RawMessage(result)}
}

func TestCorrelator_ResolveMatchesID(t *testing.T) {
	c := newCorrelator(log.NewNop())

	id1, ch1, err := c.register()
	require.NoError(t, err)
	id2, ch2, err := c.register()
	require.NoError(t, err)
	require.NotEqual(t, id1, id2)

	// Resolve out of registration order.
	c.resolve(responseFrame(id2, `"second"`))
	c.resolve(responseFrame(id1, `"first"`))

	out2 := <-ch2
	require.NoError(t, out2.err)
	assert.Equal(t, `"second"`, string(out2.result))

	out1 := <-ch1
	require.NoError(t, out1.err)
	assert.Equal(t, `"first"`, string(out1.result))
	assert.Equal(t, 0, c.outstanding())
}

func TestCorrelator_ErrorFrame(t *testing.T) {
	c := newCorrelator(log.NewNop())

	id, ch, err := c.register()
	require.NoError(t, err)

	c.resolve(&frame{JSONRPC: "2.0", ID: &id, Error: &RPCError{Code: -32601, Message: "method not found"}})

	out := <-ch
	require.Error(t, out.err)
	var rpcErr *RPCError
	require.ErrorAs(t, out.err, &rpcErr)
	assert.Equal(t, -32601, rpcErr.Code)
}

func TestCorrelator_DroppedCallIgnoresLateFrame(t *testing.T) {
	c := newCorrelator(log.NewNop())

	id, ch, err := c.register()
	require.NoError(t, err)

	c.drop(id)
	c.resolve(responseFrame(id, `"too late"`))

	select {
	case out := <-ch:
		t.Fatalf("dropped call resolved with %+v", out)
	case <-time.After(20 * time.Millisecond):
	}
	assert.Equal(t, 0, c.outstanding())
}

func TestCorrelator_UnknownFrameIsHarmless(t *testing.T) {
	c := newCorrelator(log.NewNop())

	c.resolve(responseFrame(99, `"stranger"`))
	c.resolve(&frame{JSONRPC: "2.0"})

	assert.Equal(t, 0, c.outstanding())
}

func TestCorrelator_FailAll(t *testing.T) {
	c := newCorrelator(log.NewNop())

	boom := errors.New("stream lost")
	var chans []<-chan outcome
	for range 3 {
		_, ch, err := c.register()
		require.NoError(t, err)
		chans = append(chans, ch)
	}

	c.failAll(boom)

	for _, ch := range chans {
		out := <-ch
		assert.ErrorIs(t, out.err, boom)
	}
	assert.Equal(t, 0, c.outstanding())

	// The table keeps working after a wipe.
	id, ch, err := c.register()
	require.NoError(t, err)
	c.resolve(responseFrame(id, `"fresh"`))
	out := <-ch
	require.NoError(t, out.err)
	assert.Equal(t, `"fresh"`, string(out.result))
}
