package main

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/holepunch/punchtun/nat"
	"github.com/holepunch/punchtun/protocol"
	"github.com/holepunch/punchtun/relay"
)

// link is the minimal shape relay.Repeater needs from the application-facing
// local socket; *nat.Endpoint satisfies it, whether wrapping a "listen" or a
// "connect" local UDP socket.
type link interface {
	Send([]byte) error
	Recv() ([]byte, error)
}

// runLiveness starts the keepalive emitter and the bidirectional relay
// between ch and local, then polls ch.Active() at 1Hz per §5's "Liveness
// loop": once the peer goes quiet for DisconnectTimeout, it stops the
// relay and returns so the caller can close ch and re-enter Connect.
func runLiveness(ctx context.Context, ch *nat.Channel, local link) error {
	ch.StartKeepalive()

	rep := relay.NewRepeater(ch, local)
	rep.Start()

	g, gctx := errgroup.WithContext(ctx)

	// Liveness poll: the one member that can actually end the session by
	// returning an error, which cancels gctx for the other two.
	g.Go(func() error {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case <-ticker.C:
				if !ch.Active() {
					return protocol.Wrap(protocol.KindTimeout, nil, "peer channel went quiet")
				}
			}
		}
	})
	// Stops the relay as soon as gctx is cancelled, which unblocks the
	// waiter below — without this, Wait() would block on rep.Wait()
	// forever since nothing else ever calls rep.Stop().
	g.Go(func() error {
		<-gctx.Done()
		rep.Stop()
		return nil
	})
	// Surfaces a relay-direction failure (e.g. the local application
	// socket closing) as the liveness loop's own error.
	g.Go(func() error {
		errPeer, errLocal := rep.Wait()
		if errPeer != nil {
			return errPeer
		}
		return errLocal
	})

	return g.Wait()
}
