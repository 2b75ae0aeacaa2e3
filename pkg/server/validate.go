package server

import (
	"fmt"
	"strings"

	"github.com/mikekulinski/zkasync/pkg/wire"
)

// validatePath verifies that the path received from the client names a node
// other than the root.
func validatePath(path string) error {
	if !strings.HasPrefix(path, "/") {
		return fmt.Errorf("path does not start at the root")
	}

	if path == "/" {
		return fmt.Errorf("path cannot be the root")
	}

	if strings.HasSuffix(path, "/") {
		return fmt.Errorf("path should end in a node name, not a '/'")
	}

	names := strings.Split(path, "/")
	// Since we have a leading /, then we expect the first name to be empty.
	for _, name := range names[1:] {
		switch name {
		case "":
			return fmt.Errorf("path contains an empty node name")
		case ".", "..":
			return fmt.Errorf("path contains a relative node name")
		}
		if strings.ContainsRune(name, 0) {
			return fmt.Errorf("path contains a null character")
		}
	}
	return nil
}

// validateReadPath is validatePath for requests that may target the root.
func validateReadPath(path string) error {
	if path == "/" {
		return nil
	}
	return validatePath(path)
}

// validateCreatePath allows sequential nodes to be created with only the
// suffix as their name.
func validateCreatePath(path string, mode int32) error {
	if mode&wire.ModeSequential != 0 && len(path) > 1 && strings.HasSuffix(path, "/") {
		return validateReadPath(strings.TrimSuffix(path, "/"))
	}
	return validatePath(path)
}

// validateVersion is used for conditional checks for update/delete operations. A version
// of -1 skips the version check, anything else below that is never valid.
func validateVersion(version int32) error {
	if version < -1 {
		return fmt.Errorf("invalid version [%d]", version)
	}
	return nil
}

func validateRequest(req *wire.Frame) error {
	switch req.Op {
	case wire.OpCreate, wire.OpCreateContainer:
		if req.Op == wire.OpCreateContainer && req.Mode&(wire.ModeEphemeral|wire.ModeSequential) != 0 {
			return fmt.Errorf("containers cannot be ephemeral or sequential")
		}
		return validateCreatePath(req.Path, req.Mode)
	case wire.OpDelete, wire.OpSetData, wire.OpSetACL, wire.OpCheck:
		if err := validatePath(req.Path); err != nil {
			return err
		}
		return validateVersion(req.Version)
	case wire.OpGetData, wire.OpExists, wire.OpGetChildren2, wire.OpGetACL, wire.OpSync:
		return validateReadPath(req.Path)
	case wire.OpMulti:
		for i, op := range req.Ops {
			if op.Op == wire.OpMulti {
				return fmt.Errorf("op %d: multi cannot be nested", i)
			}
			if !op.Op.IsWrite() {
				return fmt.Errorf("op %d: %s is not allowed in a multi", i, op.Op)
			}
			if err := validateRequest(op); err != nil {
				return fmt.Errorf("op %d: %w", i, err)
			}
		}
	}
	return nil
}
