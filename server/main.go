// The MIT License (MIT)
//
// # Copyright (c) 2016 xtaci
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli"

	"github.com/holepunch/punchtun/protocol"
	"github.com/holepunch/punchtun/std"
)

// VERSION is injected by buildflags.
var VERSION = "SELFBUILD"

func main() {
	if VERSION == "SELFBUILD" {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	myApp := cli.NewApp()
	myApp.Name = "punchtund"
	myApp.Usage = "NAT traversal rendezvous server"
	myApp.Version = VERSION
	myApp.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "listen,l",
			Value: fmt.Sprintf(":%d", protocol.Port),
			Usage: "TCP+UDP listen address for the rendezvous protocol",
		},
		cli.IntFlag{
			Name:  "workers",
			Value: protocol.ServerWorkers,
			Usage: "bounded worker pool shared by the TCP accept loop and the UDP probe service",
		},
		cli.BoolFlag{
			Name:  "reuseaddr",
			Usage: "set SO_REUSEADDR/SO_REUSEPORT before bind, to survive quick restarts",
		},
		cli.StringFlag{
			Name:  "log",
			Value: "",
			Usage: "specify a log file to output, default goes to stderr",
		},
		cli.BoolFlag{
			Name:  "quiet",
			Usage: "suppress per-pair traversal log lines",
		},
		cli.StringFlag{
			Name:  "statslog",
			Value: "",
			Usage: "collect stats to file, aware of timeformat in golang, like: ./stats-20060102.csv",
		},
		cli.IntFlag{
			Name:  "statsperiod",
			Value: 60,
			Usage: "stats collection period, in seconds",
		},
		cli.StringFlag{
			Name:  "c",
			Value: "",
			Usage: "config from json file, which will override the command from shell",
		},
	}
	myApp.Action = func(c *cli.Context) error {
		config := Config{}
		config.Listen = c.String("listen")
		config.Workers = c.Int("workers")
		config.ReuseAddr = c.Bool("reuseaddr")
		config.Log = c.String("log")
		config.Quiet = c.Bool("quiet")
		config.StatsLog = c.String("statslog")
		config.StatsPeriod = c.Int("statsperiod")

		if c.String("c") != "" {
			err := parseJSONConfig(&config, c.String("c"))
			checkError(err)
		}

		if config.Log != "" {
			f, err := os.OpenFile(config.Log, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
			checkError(err)
			defer f.Close()
			log.SetOutput(f)
		}

		if config.Workers <= 0 {
			config.Workers = protocol.ServerWorkers
		}

		log.Println("version:", VERSION)
		log.Println("listening on:", config.Listen)
		log.Println("workers:", config.Workers)
		log.Println("reuseaddr:", config.ReuseAddr)
		log.Println("quiet:", config.Quiet)
		log.Println("statslog:", config.StatsLog)
		log.Println("statsperiod:", config.StatsPeriod)

		co := NewCoordinator(config.Workers, config.Quiet)
		registerSignalHandler(co)

		statsStop := make(chan struct{})
		go std.StatsLogger(config.StatsLog, config.StatsPeriod, co.Snapshot, statsStop)
		defer close(statsStop)

		return co.Run(context.Background(), config.Listen, config.ReuseAddr)
	}
	myApp.Run(os.Args)
}

func checkError(err error) {
	if err != nil {
		log.Printf("%+v\n", err)
		os.Exit(-1)
	}
}
