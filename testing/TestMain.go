package testing

import (
	"os"
	"sync"
	stdtesting "testing"
)

var once sync.Once

func ensureTestMode() {
	once.Do(func() {
		_ = os.Setenv("STORETAB_TEST_MODE", "1")
		if os.Getenv("STORE_API_KEY") == "" {
			_ = os.Setenv("STORE_API_KEY", "test-key")
		}
	})
}

func init() {
	ensureTestMode()
}

func TestMain(m *stdtesting.M) {
	ensureTestMode()
	os.Exit(m.Run())
}
