package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// maxRetryDelay bounds the backoff between attempts.
const maxRetryDelay = 30 * time.Second

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay = nextDelay(delay)
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func nextDelay(d time.Duration) time.Duration {
	d *= 2
	if d > maxRetryDelay {
		return maxRetryDelay
	}
	return d
}

type closingPinger interface {
	pinger
	Close() error
}

// pingWithRetry waits for an already opened client to answer. The client is
// closed when every attempt fails.
func pingWithRetry(ctx context.Context, dep closingPinger, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	err := retryWithBackoff(func() error {
		return dep.Ping(ctx)
	}, maxRetries, initialDelay, log, operationName)
	if err != nil {
		if cerr := dep.Close(); cerr != nil {
			log.Warn("failed to close client", zap.String("operation", operationName), zap.Error(cerr))
		}
		return err
	}
	return nil
}
