package daemon

import "os"

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func removeFile(path string) {
	_ = os.Remove(path)
}
