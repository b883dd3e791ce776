// SPDX-FileCopyrightText: © 2023 Siemens AG
// SPDX-License-Identifier: MIT

/*
Starts a Merger that consumes pdf-merging-request messages, merges a
document's completed parts into a single markdown document, and
publishes the final result.

For usage details, run merger with the command line flag -h or --help.
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kbpipeline/pdfconvert/clog"
	"github.com/kbpipeline/pdfconvert/components"
	"github.com/kbpipeline/pdfconvert/config"
)

func main() {
	var configPath string
	var converterURL string
	var help bool
	var log bool

	flag.Usage = usage
	flag.StringVar(&configPath, "c", "", "Path to YAML configuration file")
	flag.StringVar(&converterURL, "converter", "http://localhost:9000/convert", "PDF-to-markdown converter endpoint")
	flag.BoolVar(&help, "h", false, "Show usage information")
	flag.BoolVar(&log, "l", false, "Show logging output (for debugging)")
	flag.Parse()

	if help {
		usage()
		os.Exit(0)
	}
	if log {
		clog.Enable()
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Printf("Failed loading configuration: %v\n", err)
		os.Exit(1)
	}

	signaled := make(chan struct{})
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		defer close(signaled)
		fmt.Printf("Terminating merger on signal %v...\n", <-sigCh)
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dep, err := components.NewDeps(ctx, cfg, converterURL)
	if err != nil {
		fmt.Printf("Failed starting merger: %v\n", err)
		os.Exit(1)
	}
	defer dep.Broker.Close()

	worker := components.NewMerger(dep)

	completed := make(chan struct{})
	go func() {
		defer close(completed)
		if err := worker.Run(ctx); err != nil {
			fmt.Printf("Merger stopped: %v\n", err)
		}
	}()

	fmt.Println("Merger started")

	select {
	case <-signaled:
		cancel()
	case <-completed:
		return
	}
	<-completed
}

func usage() {
	fmt.Printf(`usage: merger [-h|--help] [-l] [-c configPath] [-converter url]

Starts a Merger.

Flags:
`)
	flag.PrintDefaults()
}
