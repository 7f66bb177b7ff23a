package state

import (
	"time"

	"go.uber.org/zap"
)

// newLocalEnv creates LocalEnv with a logger that discards everything, so
// code running before configuration is loaded may log safely.
func newLocalEnv() *LocalEnv {
	return &LocalEnv{
		start: time.Now(),
		Log:   zap.NewNop(),
	}
}
