package util

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// WaitForInterrupt blocks until an interrupt signal (SIGINT, SIGTERM) is received.
func WaitForInterrupt() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
}
