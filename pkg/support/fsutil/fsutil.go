// Copyright 2026 The SGPar Authors. SPDX-License-Identifier: Apache-2.0

// Package fsutil resolves the file paths given on the command line.
package fsutil

import (
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// Exists returns whether the file or directory exists, or an error if the file system failed.
func Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, errors.Wrapf(err, "failed to stat %q", path)
}

// ExpandHome replaces a leading "~" or "~user" by the home directory of the user.
// Other paths are returned unchanged.
func ExpandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	name, rest, _ := strings.Cut(path[1:], "/")
	var usr *user.User
	var err error
	if name == "" {
		usr, err = user.Current()
	} else {
		usr, err = user.Lookup(name)
	}
	if err != nil {
		return "", errors.Wrapf(err, "failed to find the home directory in path %q", path)
	}
	return filepath.Join(usr.HomeDir, rest), nil
}

// OutputPath expands the home directory of path and checks that its directory exists.
func OutputPath(path string) (string, error) {
	path, err := ExpandHome(path)
	if err != nil {
		return "", err
	}
	dir := filepath.Dir(path)
	exists, err := Exists(dir)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", errors.Errorf("directory %q of output file %q doesn't exist", dir, path)
	}
	return path, nil
}
