package push

import (
	"os"
	"testing"
)

func TestMain(m *testing.M) {
	dir, err := os.MkdirTemp("", "push-test-")
	if err != nil {
		panic(err)
	}
	os.Setenv("BRIDGE_CONFIG_DIR", dir)

	code := m.Run()

	os.RemoveAll(dir)
	os.Exit(code)
}
