// Command pvdd is the Provisioning Domain daemon: it maintains an
// in-memory PvD registry fed by ICMPv6 Router Advertisements and,
// where available, a PvD-aware kernel, and serves it to local clients
// over a loopback TCP control plane.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/mpvd-tools/pvdd/internal/daemon"
	"github.com/mpvd-tools/pvdd/internal/icmpv6"
	"github.com/mpvd-tools/pvdd/internal/kernel"
	"github.com/mpvd-tools/pvdd/internal/network"
	"github.com/mpvd-tools/pvdd/internal/registry"
	"golang.org/x/sys/unix"
)

const defaultPort = 10101

type config struct {
	port        int
	persistDir  string
	useCachedRA bool
	verbose     bool
	showHelp    bool
}

func parseFlags(args []string) (*config, *flag.FlagSet, error) {
	fs := flag.NewFlagSet("pvdd", flag.ContinueOnError)
	c := &config{}
	fs.IntVar(&c.port, "p", defaultPort, "listening port")
	fs.IntVar(&c.port, "port", defaultPort, "listening port")
	fs.StringVar(&c.persistDir, "d", "", "persistence directory (parsed, never read or written)")
	fs.StringVar(&c.persistDir, "dir", "", "persistence directory (parsed, never read or written)")
	fs.BoolVar(&c.useCachedRA, "r", false, "skip the kernel probe and the live ICMPv6 RA socket")
	fs.BoolVar(&c.useCachedRA, "use-cached-ra", false, "skip the kernel probe and the live ICMPv6 RA socket")
	fs.BoolVar(&c.verbose, "v", false, "verbose logging")
	fs.BoolVar(&c.verbose, "verbose", false, "verbose logging")
	fs.BoolVar(&c.showHelp, "h", false, "show usage")
	fs.BoolVar(&c.showHelp, "help", false, "show usage")
	if err := fs.Parse(args); err != nil {
		return nil, fs, err
	}
	return c, fs, nil
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, fs, err := parseFlags(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}
	if cfg.showHelp {
		fs.Usage()
		return 0
	}

	flags := log.LstdFlags
	if cfg.verbose {
		flags |= log.Lmicroseconds
	}
	logger := log.New(os.Stderr, "pvdd: ", flags)

	if cfg.persistDir != "" {
		logger.Printf("persistence directory %q recorded, not used (persistence is not implemented)", cfg.persistDir)
	}

	if ifaces, err := network.CandidateInterfaces(); err != nil {
		logger.Printf("network: could not enumerate interfaces: %v", err)
	} else {
		names := make([]string, len(ifaces))
		for i, iface := range ifaces {
			names[i] = iface.Name
		}
		logger.Printf("candidate RA interfaces: %v", names)
	}

	kernelAware, kconn, icmpSock, rtConn := probeKernel(logger, cfg)
	if kconn != nil {
		defer kconn.Close()
	}
	if icmpSock != nil {
		defer icmpSock.Close()
	}
	if rtConn != nil {
		defer rtConn.Close()
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Printf("fatal: listen on %s: %v", addr, err)
		return 1
	}
	logger.Printf("listening on %s", addr)

	d := daemon.New(logger, listener, icmpSock, rtConn, kconn, kernelAware)

	if kernelAware && kconn != nil {
		seedFromKernel(logger, d, kconn)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Printf("shutting down")
		d.Stop()
	}()

	if err := d.Run(); err != nil {
		logger.Printf("fatal: event loop: %v", err)
		return 1
	}
	return 0
}

// probeKernel implements the startup sequence in §4.5: unless -r forces
// RA-only mode, probe for a PvD-aware kernel; ENOPROTOOPT (or the
// platform-unsupported equivalent) falls back to opening the ICMPv6
// socket instead.
func probeKernel(logger *log.Logger, cfg *config) (kernelAware bool, kconn *kernel.Conn, icmpSock *icmpv6.Socket, rtConn *kernel.RtConn) {
	if cfg.useCachedRA {
		logger.Printf("-r/--use-cached-ra set: skipping kernel probe and live ICMPv6 socket")
		return false, nil, nil, nil
	}

	kc, err := kernel.Open()
	if err != nil {
		logger.Printf("kernel: could not open probe socket: %v", err)
	} else if perr := kc.Probe(); perr == nil {
		logger.Printf("kernel is PvD-aware, subscribing to rtnetlink")
		rt, rerr := kernel.OpenRtNetlink()
		if rerr != nil {
			logger.Printf("kernel: rtnetlink subscribe failed, continuing without it: %v", rerr)
		}
		return true, kc, nil, rt
	} else if errors.Is(perr, unix.ENOPROTOOPT) || errors.Is(perr, kernel.ErrUnsupportedPlatform) {
		logger.Printf("kernel is not PvD-aware, falling back to ICMPv6 RA parsing")
		kc.Close()
	} else {
		logger.Printf("kernel: PvD probe failed: %v", perr)
		kc.Close()
	}

	sock, serr := icmpv6.Open()
	if serr != nil {
		logger.Printf("icmpv6: could not open RA socket, running without RA ingestion: %v", serr)
		return false, nil, nil, nil
	}
	return false, nil, sock, nil
}

// seedFromKernel performs the startup enumeration described in §4.5:
// every PvD the kernel already knows about is registered before the
// event loop starts serving clients.
func seedFromKernel(logger *log.Logger, d *daemon.Dispatcher, kc *kernel.Conn) {
	names, err := kc.EnumeratePvds()
	if err != nil {
		logger.Printf("kernel: SO_GETPVDLIST failed: %v", err)
		return
	}
	for _, name := range names {
		attrs, err := kc.GetAttributes(name)
		if err != nil {
			logger.Printf("kernel: SO_GETPVDATTRIBUTES(%s) failed: %v", name, err)
			continue
		}
		d.SeedKernelPvd(registry.KernelAttrs{
			Name:           attrs.Name,
			Index:          attrs.Index,
			SequenceNumber: attrs.SequenceNumber,
			HFlag:          attrs.HFlag,
			LFlag:          attrs.LFlag,
			Addresses:      attrs.Addresses,
			Rdnss:          attrs.Rdnss,
			Dnssl:          attrs.Dnssl,
		})
	}
}
