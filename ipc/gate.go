package ipc

import (
	"os"
	"path/filepath"
	"strings"
)

// DefaultMarkerExt is the extension of the marker file that enables the optional capability set.
const DefaultMarkerExt = "mcp"

// CapabilityAvailableAt reports whether the optional capability set is available to the executable at exePath.
// With dir and base being exePath's directory and extension-less name, it requires that nothing exists at dir/base,
// and that a regular file exists at dir/base.ext.
//
// Note that an executable without an extension is itself dir/base, so the gate never opens for one.
func CapabilityAvailableAt(exePath string, ext string) bool {
	dir := filepath.Dir(exePath)
	name := filepath.Base(exePath)
	base := strings.TrimSuffix(name, filepath.Ext(name))
	ext = strings.TrimPrefix(ext, ".")

	// anything already sitting at the bare name would be ambiguous with the marker
	if _, err := os.Stat(filepath.Join(dir, base)); !os.IsNotExist(err) {
		return false
	}

	fi, err := os.Stat(filepath.Join(dir, base+"."+ext))
	if err != nil {
		return false
	}
	return fi.Mode().IsRegular()
}

// CapabilityAvailable is CapabilityAvailableAt for the running executable.
func CapabilityAvailable(ext string) bool {
	exe, err := os.Executable()
	if err != nil {
		return false
	}
	return CapabilityAvailableAt(exe, ext)
}
