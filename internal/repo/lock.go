package repo

import (
	"context"
	"math/rand"
	"time"

	"github.com/danjacques/gofslock/fslock"

	"go.chromium.org/luci/common/clock"
	"go.chromium.org/luci/common/logging"

	"github.com/serhei/bunsen/internal/bunsenerr"
)

const lockFileName = "bunsen.lock"

// WithWriteLock grabs the single advisory bunsen.lock for the duration of
// fn and releases it afterwards. Adapted from the
// teacher's gaedeploy cache-lock helper: same jittered-retry Blocker, same
// reliance on clock.Sleep so tests can fake the passage of time.
func WithWriteLock(ctx context.Context, dir string, timeout time.Duration, nonBlocking bool, fn func() error) error {
	unlock, err := lockFS(ctx, dir, timeout, nonBlocking)
	if err != nil {
		return err
	}
	defer func() {
		if uerr := unlock(); uerr != nil {
			logging.Warningf(ctx, "failed to release %s: %s", lockFileName, uerr)
		}
	}()
	return fn()
}

func lockFS(ctx context.Context, dir string, giveUpTimeout time.Duration, nonBlocking bool) (unlock func() error, err error) {
	path := dir + "/" + lockFileName

	l := fslock.L{Path: path}

	if nonBlocking {
		handle, err := l.Lock()
		if err != nil {
			return nil, bunsenerr.Wrap(err, bunsenerr.LockHeld, "another writer holds "+lockFileName)
		}
		return handle.Unlock, nil
	}

	if giveUpTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, giveUpTimeout)
		defer cancel()
	}

	attempt := 0
	l.Block = fslock.Blocker(func() error {
		attempt++
		delay := time.Second + time.Duration(rand.Int63n(int64(2*time.Second)))
		logging.Warningf(ctx, "failed to grab %s on attempt %d, retrying after %s...", lockFileName, attempt, delay)
		tr := clock.Sleep(ctx, delay)
		return tr.Err
	})

	handle, err := l.Lock()
	if err != nil {
		return nil, bunsenerr.Wrap(err, bunsenerr.LockHeld, "could not grab "+lockFileName)
	}
	return handle.Unlock, nil
}
