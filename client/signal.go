//go:build linux || darwin || freebsd

package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"
)

// registerSignalHandler starts a goroutine that dumps the executor's
// current peer channel state to the log on SIGUSR1, adapted from the
// teacher's SIGUSR1->KCP-SNMP dump.
func registerSignalHandler(e *Executor) {
	go sigHandler(e)
}

func sigHandler(e *Executor) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGUSR1)
	signal.Ignore(syscall.SIGPIPE)

	for range ch {
		log.Printf("session: local=%s remote=%s", e.localID, e.remoteID)
		if c := e.channel; c != nil {
			log.Printf("peer channel: local=%v remote=%v active=%v", c.LocalAddr(), c.RemoteAddr(), c.Active())
		} else {
			log.Printf("peer channel: not yet established")
		}
	}
}
