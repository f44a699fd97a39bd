package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("COMPTOIR_TEST_MODE") == "" {
			_ = os.Setenv("COMPTOIR_TEST_MODE", "1")
		}
	})
}
