package os

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/creachadair/atomicfile"
)

type logger interface {
	Info(msg string, keyvals ...interface{})
}

// SignalContext returns a context that is canceled on the first SIGINT or
// SIGTERM. The signal name is logged when it arrives.
func SignalContext(ctx context.Context, logger logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigs)
		select {
		case sig := <-sigs:
			logger.Info("caught signal, shutting down", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// EnsureDir creates dir and its parents if it does not exist yet.
func EnsureDir(dir string, mode os.FileMode) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, mode); err != nil {
			return fmt.Errorf("could not create directory %v: %w", dir, err)
		}
	}
	return nil
}

func FileExists(filePath string) bool {
	_, err := os.Stat(filePath)
	return !os.IsNotExist(err)
}

// WriteFileAtomic writes contents to a temporary file next to filePath and
// renames it into place, so readers never see a partial file.
func WriteFileAtomic(filePath string, contents []byte, mode os.FileMode) error {
	_, err := atomicfile.WriteAll(filePath, bytes.NewReader(contents), mode)
	return err
}
