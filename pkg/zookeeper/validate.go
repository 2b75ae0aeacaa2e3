package zookeeper

import (
	"strings"
)

// validatePath verifies that path names a node, the root included.
func validatePath(path string) error {
	if !strings.HasPrefix(path, "/") {
		return errorf(ErrInvalidArguments, "path %q does not start at the root", path)
	}
	if path == "/" {
		return nil
	}
	if strings.HasSuffix(path, "/") {
		return errorf(ErrInvalidArguments, "path %q should end in a node name", path)
	}

	names := strings.Split(path, "/")
	// Since we have a leading /, then we expect the first name to be empty.
	for _, name := range names[1:] {
		switch name {
		case "":
			return errorf(ErrInvalidArguments, "path %q contains an empty node name", path)
		case ".", "..":
			return errorf(ErrInvalidArguments, "path %q contains a relative node name", path)
		}
		if strings.ContainsRune(name, 0) {
			return errorf(ErrInvalidArguments, "path %q contains a null character", path)
		}
	}
	return nil
}

// validateNodePath is validatePath for operations that can never apply to
// the root.
func validateNodePath(path string) error {
	if path == "/" {
		return errorf(ErrInvalidArguments, "path cannot be the root")
	}
	return validatePath(path)
}

// validateCreatePath allows a trailing "/" for sequential nodes, since the
// ensemble appends the name.
func validateCreatePath(path string, mode CreateMode) error {
	if mode.IsSequential() && strings.HasSuffix(path, "/") {
		return validatePath(path + "0")
	}
	return validateNodePath(path)
}

// validateVersion accepts real versions and the -1 wildcard.
func validateVersion(v int32) error {
	if v < -1 {
		return errorf(ErrInvalidArguments, "invalid version %d", v)
	}
	return nil
}

func validateCreateMode(mode CreateMode) error {
	if mode&^createModeMask != 0 {
		return errorf(ErrInvalidArguments, "unknown create mode %s", mode)
	}
	if mode.IsContainer() && mode != Container {
		return errorf(ErrInvalidArguments, "container cannot be combined with other flags: %s", mode)
	}
	return nil
}

func validateACL(acl ACL) error {
	for _, rule := range acl {
		if rule.Scheme == "" {
			return errorf(ErrInvalidArguments, "acl rule %s has no scheme", rule)
		}
		if rule.Permissions&^PermAll != 0 {
			return errorf(ErrInvalidArguments, "acl rule %s has unknown permissions", rule)
		}
	}
	return nil
}

func defaultACL(acl ACL) ACL {
	if len(acl) == 0 {
		return OpenUnsafe
	}
	return acl
}

func prependChroot(chroot, path string) string {
	if chroot == "" {
		return path
	}
	if path == "/" {
		return chroot
	}
	return chroot + path
}

func stripChroot(chroot, path string) string {
	if chroot == "" {
		return path
	}
	if path == chroot {
		return "/"
	}
	return strings.TrimPrefix(path, chroot)
}
