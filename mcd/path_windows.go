package mcd

import (
	"io/ioutil"
	"os"
)

// writableDir returns true if path is an existing directory the process may create files in.
// Windows has no access(2), so a temporary file is created and removed.
func writableDir(path string) bool {
	if path == "" {
		return false
	}
	fi, err := os.Stat(path)
	if err != nil || !fi.IsDir() {
		return false
	}
	f, err := ioutil.TempFile(path, ".mcd-write-check-")
	if err != nil {
		return false
	}
	name := f.Name()
	f.Close()
	os.Remove(name)
	return true
}
