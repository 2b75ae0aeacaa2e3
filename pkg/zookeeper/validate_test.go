package zookeeper

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidatePath(t *testing.T) {
	tests := []struct {
		path    string
		wantErr bool
	}{
		{path: "/"},
		{path: "/a"},
		{path: "/a/b/c"},
		{path: "", wantErr: true},
		{path: "a/b", wantErr: true},
		{path: "/a/", wantErr: true},
		{path: "/a//b", wantErr: true},
		{path: "/a/./b", wantErr: true},
		{path: "/..", wantErr: true},
		{path: "/a\x00b", wantErr: true},
	}
	for _, test := range tests {
		t.Run(test.path, func(t *testing.T) {
			err := validatePath(test.path)
			if test.wantErr {
				assert.ErrorIs(t, err, ErrInvalidArguments)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestValidateCreatePath(t *testing.T) {
	assert.ErrorIs(t, validateCreatePath("/", Normal), ErrInvalidArguments)
	assert.ErrorIs(t, validateCreatePath("/a/", Normal), ErrInvalidArguments)
	assert.NoError(t, validateCreatePath("/a/", Sequential))
	assert.NoError(t, validateCreatePath("/a/item-", Sequential|Ephemeral))
}

func TestValidateCreateMode(t *testing.T) {
	tests := []struct {
		mode    CreateMode
		wantErr bool
	}{
		{mode: Normal},
		{mode: Ephemeral},
		{mode: Sequential},
		{mode: Ephemeral | Sequential},
		{mode: Container},
		{mode: Container | Ephemeral, wantErr: true},
		{mode: Container | Sequential, wantErr: true},
		{mode: CreateMode(8), wantErr: true},
	}
	for _, test := range tests {
		t.Run(test.mode.String(), func(t *testing.T) {
			err := validateCreateMode(test.mode)
			if test.wantErr {
				assert.ErrorIs(t, err, ErrInvalidArguments)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestValidateACL(t *testing.T) {
	assert.NoError(t, validateACL(nil))
	assert.NoError(t, validateACL(OpenUnsafe))
	assert.ErrorIs(t, validateACL(ACL{{Permissions: PermRead}}), ErrInvalidArguments)
	assert.ErrorIs(t, validateACL(ACL{{Permissions: 64, Scheme: "world", ID: "anyone"}}), ErrInvalidArguments)
}

func TestChroot(t *testing.T) {
	tests := []struct {
		chroot string
		path   string
		wire   string
	}{
		{chroot: "", path: "/a", wire: "/a"},
		{chroot: "/app", path: "/", wire: "/app"},
		{chroot: "/app", path: "/a/b", wire: "/app/a/b"},
	}
	for _, test := range tests {
		t.Run(test.chroot+test.path, func(t *testing.T) {
			assert.Equal(t, test.wire, prependChroot(test.chroot, test.path))
			assert.Equal(t, test.path, stripChroot(test.chroot, test.wire))
		})
	}
}

func TestStrings(t *testing.T) {
	assert.Equal(t, "ephemeral|sequential", (Ephemeral | Sequential).String())
	assert.Equal(t, "normal", Normal.String())
	assert.Equal(t, "read|write", (PermRead | PermWrite).String())
	assert.Equal(t, "all", PermAll.String())
	assert.Equal(t, "(world:anyone, all)", OpenUnsafe[0].String())
	assert.Equal(t, "expired_session", StateExpiredSession.String())
	assert.Equal(t, "not_watching", EventNotWatching.String())
	assert.Equal(t, "{type=created state=connected path=/a}", Event{Type: EventCreated, State: StateConnected, Path: "/a"}.String())
	assert.True(t, StateAuthenticationFailed.IsTerminal())
	assert.False(t, StateConnecting.IsTerminal())
	assert.True(t, PermAll.Allows(PermErase|PermAdmin))
	assert.False(t, PermRead.Allows(PermWrite))
}
