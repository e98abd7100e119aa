// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package tcp

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/luxfi/linerpc"
)

// serveLoop runs one dispatch cycle at a time on sess, each under mu, until
// an error ends it. The readiness wait happens outside mu so that foreground
// calls can use the session meanwhile. A peer answering "err -1" to one of
// our calls does not end the loop.
func serveLoop(ctx context.Context, mu *sync.Mutex, sess *linerpc.Session, sel linerpc.Selector, timeout time.Duration, stopped func() bool) error {
	for {
		if stopped != nil && stopped() {
			return nil
		}

		mu.Lock()
		ready, err := sess.Select(ctx, 0)
		if err == nil && ready {
			_, err = sess.Run(ctx)
		}
		mu.Unlock()

		if err != nil && !errors.Is(err, linerpc.ErrFNF) {
			return err
		}
		if ready {
			continue
		}
		if _, err := sel.Select(ctx, timeout); err != nil {
			return err
		}
	}
}
