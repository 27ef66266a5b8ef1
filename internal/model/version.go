package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ArtifactVersion derives a stable identifier from the artifact's file name and
// content, so replacing the file changes the reported version.
func ArtifactVersion(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open model artifact: %w", err)
	}
	defer f.Close()

	name := filepath.Base(path)
	h := sha256.New()
	h.Write([]byte(name))
	h.Write([]byte{0})
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash model artifact: %w", err)
	}
	return fmt.Sprintf("%s@%s", name, hex.EncodeToString(h.Sum(nil))[:12]), nil
}
