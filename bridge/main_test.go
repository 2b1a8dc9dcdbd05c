package bridge

import (
	"os"
	"testing"
)

func TestMain(m *testing.M) {
	// config is an env singleton; point its state dir at a scratch location
	// before anything reads it
	dir, err := os.MkdirTemp("", "bridge-test-")
	if err != nil {
		os.Exit(1)
	}
	os.Setenv("BRIDGE_CONFIG_DIR", dir)
	code := m.Run()
	os.RemoveAll(dir)
	os.Exit(code)
}
