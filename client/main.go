package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/urfave/cli"

	"github.com/holepunch/punchtun/nat"
	"github.com/holepunch/punchtun/protocol"
	"github.com/holepunch/punchtun/relay"
)

// VERSION is injected by buildflags.
var VERSION = "SELFBUILD"

func main() {
	if VERSION == "SELFBUILD" {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	myApp := cli.NewApp()
	myApp.Name = "punchtun"
	myApp.Usage = "NAT traversal client"
	myApp.Version = VERSION
	myApp.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "server",
			Usage: "rendezvous server host (shares TCP+UDP port with --remote's peer)",
		},
		cli.StringFlag{
			Name:  "id",
			Usage: "this peer's id; defaults to a fresh 32-hex id",
		},
		cli.StringFlag{
			Name:  "remote",
			Usage: "the peer id to pair with",
		},
		cli.StringFlag{
			Name:  "listen",
			Usage: `local "ip:port" the relay listens on for the application socket`,
		},
		cli.StringFlag{
			Name:  "connect",
			Usage: `local "ip:port" the relay dials out to for the application socket`,
		},
		cli.StringFlag{
			Name:  "log",
			Value: "",
			Usage: "specify a log file to output, default goes to stderr",
		},
		cli.BoolFlag{
			Name:  "quiet",
			Usage: "suppress per-attempt retry log lines",
		},
		cli.StringFlag{
			Name:  "c",
			Value: "",
			Usage: "config from json file, which will override the command from shell",
		},
	}
	myApp.Action = run
	if err := myApp.Run(os.Args); err != nil {
		log.Printf("%+v\n", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	config := Config{}
	config.Server = c.String("server")
	config.ID = c.String("id")
	config.Remote = c.String("remote")
	config.Listen = c.String("listen")
	config.Connect = c.String("connect")
	config.Log = c.String("log")
	config.Quiet = c.Bool("quiet")

	if c.String("c") != "" {
		if err := parseJSONConfig(&config, c.String("c")); err != nil {
			return cli.NewExitError(err.Error(), 1)
		}
	}

	if config.ID == "" {
		config.ID = strings.ReplaceAll(uuid.New().String(), "-", "")
	}
	if config.Server == "" || config.Remote == "" {
		return cli.NewExitError("--server and --remote are required", 1)
	}
	if (config.Listen == "") == (config.Connect == "") {
		color.Red("exactly one of --listen or --connect must be given")
		return cli.NewExitError("exactly one of --listen or --connect must be given", 1)
	}

	if config.Log != "" {
		f, err := os.OpenFile(config.Log, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			return cli.NewExitError(err.Error(), 1)
		}
		defer f.Close()
		log.SetOutput(f)
	}

	log.Println("version:", VERSION)
	log.Println("server:", config.Server)
	log.Println("id:", config.ID)
	log.Println("remote:", config.Remote)
	log.Println("listen:", config.Listen)
	log.Println("connect:", config.Connect)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("interrupted, shutting down")
		cancel()
	}()

	serverAddr := fmt.Sprintf("%s:%d", config.Server, protocol.Port)
	executor := NewExecutor(serverAddr, config.ID, config.Remote)
	registerSignalHandler(executor)

	runClientLoop(ctx, executor, &config)
	return nil
}

// runClientLoop repeatedly connects, relays, and waits for the peer channel
// to go quiet, per §5's client-side liveness loop. Any failure anywhere in
// that cycle is logged once and retried after a short pause; it never
// propagates as a fatal error (§7: a single log line per failed attempt and
// an automatic retry).
func runClientLoop(ctx context.Context, executor *Executor, config *Config) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		channel, err := executor.Connect(ctx)
		if err != nil {
			if !config.Quiet {
				log.Println("connect failed, retrying:", err)
			}
			if !sleepOrDone(ctx, time.Second) {
				return
			}
			continue
		}

		if !config.Quiet {
			log.Println("peer channel established, remote:", channel.RemoteAddr())
		}

		localLink, closeLocal, err := openLocalLink(config)
		if err != nil {
			log.Println("local relay socket failed:", err)
			channel.Close()
			if !sleepOrDone(ctx, time.Second) {
				return
			}
			continue
		}

		err = runLiveness(ctx, channel, localLink)
		closeLocal()
		channel.Close()
		if !config.Quiet {
			log.Println("peer channel ended:", err)
		}

		if !sleepOrDone(ctx, time.Second) {
			return
		}
	}
}

// openLocalLink opens the application-facing local UDP socket in either
// "listen" or "connect" mode and wraps it as a relay link. The returned
// closer closes the underlying socket.
func openLocalLink(config *Config) (link, func(), error) {
	if config.Listen != "" {
		addr, err := net.ResolveUDPAddr("udp", config.Listen)
		if err != nil {
			return nil, nil, protocol.Wrap(protocol.KindTransport, err, "resolve --listen address")
		}
		conn, err := relay.ListenLocal(addr)
		if err != nil {
			return nil, nil, err
		}
		return nat.NewEndpoint(conn, nil), func() { conn.Close() }, nil
	}

	addr, err := net.ResolveUDPAddr("udp", config.Connect)
	if err != nil {
		return nil, nil, protocol.Wrap(protocol.KindTransport, err, "resolve --connect address")
	}
	conn, err := relay.DialLocal(addr)
	if err != nil {
		return nil, nil, err
	}
	return nat.NewEndpoint(conn, addr), func() { conn.Close() }, nil
}

// sleepOrDone waits d, returning false early (without sleeping the full
// duration) if ctx is cancelled first.
func sleepOrDone(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
