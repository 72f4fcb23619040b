package store

import (
	"fmt"
	"os"
	"path/filepath"
)

// DBFile is the database file name inside an observer directory.
const DBFile = "observer.db"

// GlobalObserverPath returns the path to the global .observer directory.
// On Unix: ~/.observer
// On Windows: %USERPROFILE%\.observer
func GlobalObserverPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, ".observer"), nil
}

// LocalObserverPath returns the path to the .observer directory under root.
func LocalObserverPath(root string) string {
	return filepath.Join(root, ".observer")
}
