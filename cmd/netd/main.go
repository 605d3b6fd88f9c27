// Command netd is the network daemon process (component C6): it loads
// /etc/network.cfg, attaches to the datagram medium, and runs the
// protocol-handler event loop until a stop signal or SIGINT/SIGTERM (spec
// §6 CLI surface).
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/datawire/dlib/dgroup"
	"github.com/datawire/dlib/dlog"
	"github.com/spf13/cobra"

	"github.com/ccnetlab/ccnet/internal/atomicfile"
	"github.com/ccnetlab/ccnet/internal/pidfile"
	"github.com/ccnetlab/ccnet/pkg/ccnetcfg"
	"github.com/ccnetlab/ccnet/pkg/ccnetlog"
	"github.com/ccnetlab/ccnet/pkg/daemon"
	"github.com/ccnetlab/ccnet/pkg/identity"
	"github.com/ccnetlab/ccnet/pkg/link"
	"github.com/ccnetlab/ccnet/pkg/udp"
)

const processName = "netd"

// Exit codes spec §6 assigns to this process.
const (
	exitOK             = 0
	exitConfigMissing  = 2
	exitPIDExists      = 3
	exitStopSignal     = 4
)

const (
	pidPath        = "/var/run/netd.pid"
	statsPath      = "/var/run/netd.stats"
	statePath      = "/var/cache/netd.state"
	globalStopPath = "/var/run/netd.stop.all"
	localStopPath  = "/var/run/netd.stop"
	infoPath       = "/var/run/network.info"
)

func main() {
	ctx := context.Background()
	ctx = dgroup.WithGoroutineName(ctx, "/"+processName)

	var stop, status bool
	cmd := &cobra.Command{
		Use:   processName,
		Short: "run the ccnet network daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			switch {
			case stop:
				return runStop(cmd.Context())
			case status:
				return runStatus(cmd.Context())
			default:
				return runStart(cmd.Context())
			}
		},
		SilenceUsage: true,
	}
	cmd.Flags().BoolVar(&stop, "stop", false, "write the local stop signal and exit")
	cmd.Flags().BoolVar(&status, "status", false, "print the current info file")

	if err := cmd.ExecuteContext(ctx); err != nil {
		if ec, ok := err.(exitError); ok {
			if ec.msg != "" {
				dlog.Errorf(ctx, "%s", ec.msg)
			}
			os.Exit(ec.code)
		}
		dlog.Errorf(ctx, "quit: %v", err)
		os.Exit(1)
	}
}

// exitError carries a process exit code alongside the spec §6 exit-code
// table, so main can os.Exit with the right value without cobra printing
// its own usage banner for what is really a normal-but-nonzero outcome.
type exitError struct {
	code int
	msg  string
}

func (e exitError) Error() string { return e.msg }

func runStop(ctx context.Context) error {
	f, err := os.OpenFile(localStopPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	return f.Close()
}

func runStatus(ctx context.Context) error {
	data, err := os.ReadFile(infoPath)
	if err != nil {
		return exitError{code: exitConfigMissing, msg: fmt.Sprintf("read %s: %v", infoPath, err)}
	}
	fmt.Println(string(data))
	return nil
}

func runStart(ctx context.Context) error {
	if pidfile.Exists(pidPath) {
		return exitError{code: exitPIDExists, msg: "daemon already running"}
	}
	if fileExists(globalStopPath) || fileExists(localStopPath) {
		consumeLocalStop()
		return exitError{code: exitStopSignal, msg: "stop signal present"}
	}

	cfg, err := ccnetcfg.LoadNodeConfig(ctx)
	if err != nil {
		return exitError{code: exitConfigMissing, msg: err.Error()}
	}

	ctx = ccnetlog.MakeBaseLogger(ctx, cfg.LoggingLevel, cfg.LoggingFile)
	self := cfg.Identity()

	bus := link.NewBus()
	nodeLink := bus.Attach(self.ID)
	defer nodeLink.Close()

	var udpMgr *udp.Manager
	if cfg.UDPEnabled {
		udpMgr = udp.NewManager(self.IPv4, nodeLink)
	}

	d := daemon.New(daemon.Config{
		Self:              self,
		Link:              nodeLink,
		UDP:               udpMgr,
		DiscoveryInterval: time.Duration(cfg.DiscoveryInterval) * time.Second,
		DNSTTL:            time.Duration(cfg.DNSTTLSeconds) * time.Second,
		ARPTTL:            time.Duration(cfg.ARPTTLSeconds) * time.Second,
		ConnectionTimeout: time.Duration(cfg.ConnectionTimeoutSeconds) * time.Second,
		PIDPath:           pidPath,
		StatsPath:         statsPath,
		StatePath:         statePath,
		GlobalStopPath:    globalStopPath,
		LocalStopPath:     localStopPath,
	})

	if err := writeInfo(self); err != nil {
		dlog.Warnf(ctx, "write info file: %v", err)
	}

	grp := dgroup.NewGroup(ctx, dgroup.GroupConfig{
		SoftShutdownTimeout:  5 * time.Second,
		EnableSignalHandling: true,
	})
	grp.Go("daemon", d.Run)
	return grp.Wait()
}

// infoFile is the JSON shape netd --status reads back (spec §6
// /var/run/network.info).
type infoFile struct {
	ID       uint32 `json:"id"`
	MAC      string `json:"mac"`
	IPv4     string `json:"ipv4"`
	Hostname string `json:"hostname"`
	FQDN     string `json:"fqdn"`
}

func writeInfo(self *identity.Identity) error {
	data, err := json.MarshalIndent(infoFile{
		ID:       self.ID,
		MAC:      self.MAC,
		IPv4:     self.IPv4,
		Hostname: self.Hostname,
		FQDN:     self.FQDN,
	}, "", "  ")
	if err != nil {
		return err
	}
	return atomicfile.WriteFile(infoPath, data, 0o644)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func consumeLocalStop() {
	if fileExists(localStopPath) {
		_ = os.Remove(localStopPath)
	}
}
