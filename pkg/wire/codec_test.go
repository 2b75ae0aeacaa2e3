package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestFrame_RoundTripMulti(t *testing.T) {
	f := &Frame{
		Kind: KindRequest,
		Xid:  7,
		Op:   OpMulti,
		Ops: []*Frame{
			{Op: OpCheck, Path: "/a", Version: -1},
			{Op: OpCreate, Path: "/a/b", Data: []byte("x"), Mode: ModeEphemeral | ModeSequential, ACL: []ACL{{Perms: 31, Scheme: "world", ID: "anyone"}}},
			{Op: OpSetData, Path: "/a", Data: []byte{}, Version: 3},
		},
	}

	got, err := Unmarshal(Marshal(f))
	require.NoError(t, err)
	assert.Equal(t, f, got)
}

func TestFrame_NegativeValues(t *testing.T) {
	f := &Frame{
		Kind:      KindResponse,
		Xid:       PingXid,
		Op:        OpCloseSession,
		Code:      CodeSessionExpired,
		State:     -112,
		EventType: -2,
		Stat:      &Stat{},
	}

	got, err := Unmarshal(Marshal(f))
	require.NoError(t, err)
	assert.Equal(t, f, got)
	assert.NotNil(t, got.Stat, "an empty stat should survive encoding")
}

func TestUnmarshal_Malformed(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{name: "truncated tag", data: []byte{0x80}},
		{name: "truncated bytes", data: []byte{0x2a, 0x05, 'a'}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := Unmarshal(test.data)
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestCodec(t *testing.T) {
	c := Codec{}
	assert.Equal(t, CodecName, c.Name())

	_, err := c.Marshal("not a frame")
	assert.Error(t, err)

	b, err := c.Marshal(&Frame{Kind: KindNotification, Path: "/x", EventType: 3})
	require.NoError(t, err)
	out := &Frame{Children: []string{"stale"}}
	require.NoError(t, c.Unmarshal(b, out))
	assert.Equal(t, &Frame{Kind: KindNotification, Path: "/x", EventType: 3}, out)
}

func TestFrame_Reply(t *testing.T) {
	req := &Frame{Kind: KindRequest, Xid: 4, Op: OpGetData, Path: "/a"}
	resp := req.Reply(CodeNoNode)
	assert.Equal(t, KindResponse, resp.Kind)
	assert.Equal(t, int64(4), resp.Xid)
	assert.Equal(t, OpGetData, resp.Op)
	assert.Equal(t, CodeNoNode, resp.Code)
	assert.Empty(t, resp.Path)
}

func TestFrame_MarshalLogObject(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	logger := zap.New(core)

	logger.Debug("sent", zap.Object("frame", &Frame{Kind: KindRequest, Xid: 9, Op: OpSync, Path: "/"}))

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()["frame"].(map[string]any)
	assert.Equal(t, "request", fields["kind"])
	assert.Equal(t, int64(9), fields["xid"])
	assert.Equal(t, "sync", fields["op"])
}

func TestOpCode_IsWrite(t *testing.T) {
	assert.True(t, OpCreate.IsWrite())
	assert.True(t, OpMulti.IsWrite())
	assert.False(t, OpGetData.IsWrite())
	assert.False(t, OpSync.IsWrite())
}
