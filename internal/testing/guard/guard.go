// Package guard switches the binaries into test mode when imported from
// tests, so commands that would dial Postgres or Redis return early.
package guard

import (
	"os"
	"sync"

	"github.com/odyssey-erp/unit4-bridge/internal/app"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv(app.TestModeEnv) == "" {
			_ = os.Setenv(app.TestModeEnv, "1")
		}
		app.RefreshTestMode()
	})
}
