// Package builders is a small library of ready-made builders for
// common pipeline steps: copying and installing files, running
// external commands, and assembling tarballs.
//
// Each builder exposes its output node through a Target method, so
// builders can be passed directly wherever a node is accepted.
package builders

import (
	"os"
	"path/filepath"

	"github.com/google/renameio"
)

// copyFile replaces dest with the contents and mode of src. The write
// is atomic: dest is never observed half-written.
func copyFile(src, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}
	st, err := os.Stat(src)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return renameio.WriteFile(dest, data, st.Mode().Perm())
}
