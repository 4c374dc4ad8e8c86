//go:build !windows

package mcd

import (
	"os"

	"golang.org/x/sys/unix"
)

// writableDir returns true if path is an existing directory the process may create files in
func writableDir(path string) bool {
	if path == "" {
		return false
	}
	fi, err := os.Stat(path)
	if err != nil || !fi.IsDir() {
		return false
	}
	return unix.Access(path, unix.W_OK|unix.X_OK) == nil
}
