// Command dnsmgrdemo drives the dnsmgr package from a minimal event
// loop, the way an embedding Host Runtime would: it builds a Manager,
// pumps its IOSource contract on a ticker, and issues either a blocking
// or a non-blocking lookup depending on flags.
//
// Usage:
//
//	dnsmgrdemo -host example.com                # blocking A/AAAA lookup
//	dnsmgrdemo -host example.com -async         # non-blocking lookup
//	dnsmgrdemo -addr 1.1.1.1                     # reverse lookup
//	dnsmgrdemo -host example.com -server 8.8.8.8:53
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/netrt/dnsmgr/dnsmgr"
)

var (
	host      = flag.String("host", "", "hostname to resolve (A/AAAA)")
	addr      = flag.String("addr", "", "address to reverse-resolve (PTR)")
	server    = flag.String("server", dnsmgr.DefaultServer, "upstream resolver address")
	cacheFile = flag.String("cache-file", dnsmgr.DefaultCacheFile, "on-disk cache persistence path")
	async     = flag.Bool("async", false, "issue the lookup non-blocking, pumping the IOSource loop manually")
	mode      = flag.String("mode", "default", "manager mode: default, prime, force, fake")
)

func main() {
	flag.Parse()

	if *host == "" && *addr == "" {
		fmt.Fprintln(os.Stderr, "usage: dnsmgrdemo -host <hostname> | -addr <ip> [options]")
		flag.PrintDefaults()
		os.Exit(1)
	}

	m, err := dnsmgr.New(
		dnsmgr.WithServer(*server),
		dnsmgr.WithCacheFile(*cacheFile),
		dnsmgr.WithMode(parseMode(*mode)),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start manager: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if err := m.Flush(); err != nil {
			fmt.Fprintf(os.Stderr, "flush: %v\n", err)
		}
	}()

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)

	if *async {
		runAsync(m, signalCh)
		return
	}
	runSync(m)
}

func parseMode(s string) dnsmgr.Mode {
	switch s {
	case "prime":
		return dnsmgr.ModePrime
	case "force":
		return dnsmgr.ModeForce
	case "fake":
		return dnsmgr.ModeFake
	default:
		return dnsmgr.ModeDefault
	}
}

func runSync(m *dnsmgr.Manager) {
	ctx, cancel := context.WithTimeout(context.Background(), dnsmgr.DefaultSyncTimeout)
	defer cancel()

	if *host != "" {
		addrs, err := m.LookupHost(ctx, *host)
		if err != nil {
			fmt.Fprintf(os.Stderr, "lookup host %s: %v\n", *host, err)
			os.Exit(1)
		}
		for _, ip := range addrs {
			fmt.Println(ip)
		}
	}
	if *addr != "" {
		name, err := m.LookupAddr(ctx, net.ParseIP(*addr))
		if err != nil {
			fmt.Fprintf(os.Stderr, "lookup addr %s: %v\n", *addr, err)
			os.Exit(1)
		}
		fmt.Println(name)
	}
}

func runAsync(m *dnsmgr.Manager, signalCh <-chan os.Signal) {
	done := make(chan struct{})
	cb := dnsmgr.CallbackFuncs{
		OnResolvedHost: func(addrs []net.IP) {
			for _, ip := range addrs {
				fmt.Println(ip)
			}
			close(done)
		},
		OnResolvedAddr: func(hostname string) {
			fmt.Println(hostname)
			close(done)
		},
		OnTimeout: func() {
			fmt.Fprintln(os.Stderr, "lookup timed out")
			close(done)
		},
	}

	switch {
	case *host != "":
		if err := m.AsyncLookupHost(*host, cb); err != nil {
			fmt.Fprintf(os.Stderr, "submit: %v\n", err)
			os.Exit(1)
		}
	case *addr != "":
		if err := m.AsyncLookupAddr(net.ParseIP(*addr), cb); err != nil {
			fmt.Fprintf(os.Stderr, "submit: %v\n", err)
			os.Exit(1)
		}
	}

	for {
		timeout := m.GetNextTimeout()
		select {
		case <-done:
			return
		case <-signalCh:
			fmt.Println(" <INTERRUPT>")
			return
		case <-m.WakeChannel():
			m.Process()
		case <-time.After(timeout):
			m.Process()
		}
	}
}
