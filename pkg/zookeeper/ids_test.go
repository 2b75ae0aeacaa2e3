package zookeeper

import (
	"testing"

	"github.com/mikekulinski/zkasync/pkg/zxid"
	"github.com/stretchr/testify/assert"
)

func TestID(t *testing.T) {
	v := NewVersion(3)
	assert.Equal(t, int32(3), v.Value())
	assert.Equal(t, NewVersion(4), v.Inc())
	assert.Equal(t, NewVersion(2), v.Dec())
	assert.True(t, v.Less(v.Inc()))
	assert.False(t, v.Less(v))
	assert.Equal(t, "3", v.String())

	assert.Equal(t, int32(-1), AnyVersion.Value())
	assert.Equal(t, int32(-1), AnyACLVersion.Value())
	assert.True(t, InvalidVersion.Less(AnyVersion))
	assert.Equal(t, "-1", AnyVersion.Dec().Inc().String())
}

func TestSplit(t *testing.T) {
	epoch, counter := Split(NewTransactionID(int64(zxid.New(3, 17))))
	assert.Equal(t, int32(3), epoch)
	assert.Equal(t, int32(17), counter)
}
