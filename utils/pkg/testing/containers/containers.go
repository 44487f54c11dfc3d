// Package containers holds start-up helpers shared by the container-backed
// test databases.
package containers

import (
	"context"
	"fmt"
	"time"

	"github.com/malbeclabs/revpool/utils/pkg/retry"
)

// StartErrors are docker daemon failures that usually clear up on a second
// attempt, typically on a loaded CI host.
var StartErrors = []string{
	"wait until ready",
	"mapped port",
	"timeout",
	"context deadline exceeded",
	"Get \"http://%2Fvar%2Frun%2Fdocker.sock",
}

// StartRetry is the backoff used for container start-up.
var StartRetry = retry.Config{
	MaxAttempts: 3,
	BaseBackoff: 750 * time.Millisecond,
	MaxBackoff:  3 * time.Second,
	ShouldRetry: retry.OnMessages(StartErrors...),
}

// Start calls run until the container is up, retrying transient docker
// failures.
func Start[C any](ctx context.Context, name string, run func(context.Context) (C, error)) (C, error) {
	var c C
	err := retry.Do(ctx, StartRetry, func() error {
		var err error
		c, err = run(ctx)
		return err
	})
	if err != nil {
		var zero C
		return zero, fmt.Errorf("failed to start %s container: %w", name, err)
	}
	return c, nil
}
