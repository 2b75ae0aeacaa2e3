package server

import (
	"testing"

	"github.com/mikekulinski/zkasync/pkg/wire"
	"github.com/stretchr/testify/assert"
)

func TestValidatePath(t *testing.T) {
	tests := []struct {
		name          string
		path          string
		errorExpected bool
	}{
		{
			name:          "empty string",
			path:          "",
			errorExpected: true,
		},
		{
			name:          "not starting at root",
			path:          "node/other/one",
			errorExpected: true,
		},
		{
			name:          "not ending with node name",
			path:          "/a/b/",
			errorExpected: true,
		},
		{
			name:          "root",
			path:          "/",
			errorExpected: true,
		},
		{
			name:          "no parents",
			path:          "/x",
			errorExpected: false,
		},
		{
			name:          "multiple parents",
			path:          "/x/y/z",
			errorExpected: false,
		},
		{
			name:          "empty name between path separator",
			path:          "//y/z",
			errorExpected: true,
		},
		{
			name:          "relative name",
			path:          "/x/../y",
			errorExpected: true,
		},
		{
			name:          "null character",
			path:          "/x\x00y",
			errorExpected: true,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := validatePath(test.path)
			if test.errorExpected {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateRequest(t *testing.T) {
	tests := []struct {
		name          string
		req           *wire.Frame
		errorExpected bool
	}{
		{
			name: "read of the root",
			req:  &wire.Frame{Op: wire.OpGetChildren2, Path: "/"},
		},
		{
			name:          "delete of the root",
			req:           &wire.Frame{Op: wire.OpDelete, Path: "/", Version: -1},
			errorExpected: true,
		},
		{
			name:          "version below -1",
			req:           &wire.Frame{Op: wire.OpSetData, Path: "/a", Version: -2},
			errorExpected: true,
		},
		{
			name: "sequential create with a trailing slash",
			req:  &wire.Frame{Op: wire.OpCreate, Path: "/queue/", Mode: wire.ModeSequential},
		},
		{
			name:          "plain create with a trailing slash",
			req:           &wire.Frame{Op: wire.OpCreate, Path: "/queue/"},
			errorExpected: true,
		},
		{
			name:          "ephemeral container",
			req:           &wire.Frame{Op: wire.OpCreateContainer, Path: "/c", Mode: wire.ModeContainer | wire.ModeEphemeral},
			errorExpected: true,
		},
		{
			name: "valid multi",
			req: &wire.Frame{Op: wire.OpMulti, Ops: []*wire.Frame{
				{Op: wire.OpCreate, Path: "/a"},
				{Op: wire.OpCheck, Path: "/a", Version: 0},
			}},
		},
		{
			name: "multi with a read",
			req: &wire.Frame{Op: wire.OpMulti, Ops: []*wire.Frame{
				{Op: wire.OpGetData, Path: "/a"},
			}},
			errorExpected: true,
		},
		{
			name: "nested multi",
			req: &wire.Frame{Op: wire.OpMulti, Ops: []*wire.Frame{
				{Op: wire.OpMulti},
			}},
			errorExpected: true,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := validateRequest(test.req)
			if test.errorExpected {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
