//go:build unix

package manifest

import "os"

// syncDir fsyncs a directory so a preceding rename into it is durable.
func syncDir(path string) error {
	dir, err := os.Open(path)
	if err != nil {
		return err
	}
	defer dir.Close()
	return dir.Sync()
}
