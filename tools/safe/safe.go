package safe

import (
	"WaveIM/logger"
)

// Go starts a goroutine that recovers from panic, so a single
// connection's handler cannot take the whole process down.
func Go(f func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("[safe.Go] panic recovered: %v", r)
			}
		}()
		f()
	}()
}

// Run is the synchronous variant, used inside dispatch loops where
// the caller owns the goroutine.
func Run(f func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[safe.Run] panic recovered: %v", r)
		}
	}()
	f()
}
