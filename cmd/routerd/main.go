// Command routerd is the gateway router process (component C8): it loads
// /etc/router.cfg and /etc/firewall.rules, attaches to the datagram medium
// under the designated gateway node-id, and runs the DHCP/wireless-auth/
// beacon event loop until SIGINT/SIGTERM (spec §4.5, §6 CLI surface). The
// stop signal files are checked only at startup; a running router does not
// poll them, so `routerd --stop` takes effect on the next start.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/datawire/dlib/dgroup"
	"github.com/datawire/dlib/dlog"
	"github.com/spf13/cobra"

	"github.com/ccnetlab/ccnet/internal/atomicfile"
	"github.com/ccnetlab/ccnet/internal/pidfile"
	"github.com/ccnetlab/ccnet/pkg/ccnetcfg"
	"github.com/ccnetlab/ccnet/pkg/ccnetlog"
	"github.com/ccnetlab/ccnet/pkg/identity"
	"github.com/ccnetlab/ccnet/pkg/link"
	"github.com/ccnetlab/ccnet/pkg/router"
)

const processName = "routerd"

// Exit codes spec §6 assigns to this process, mirrored from netd's table.
const (
	exitConfigMissing = 2
	exitPIDExists     = 3
	exitStopSignal    = 4
)

const (
	pidPath        = "/var/run/routerd.pid"
	statsPath      = "/var/run/router.stats"
	globalStopPath = "/var/run/netd.stop.all"
	localStopPath  = "/var/run/routerd.stop"
	leaseStatePath = "/var/lib/dhcp/leases"
	firewallPath   = "/etc/firewall.rules"
)

func main() {
	ctx := context.Background()
	ctx = dgroup.WithGoroutineName(ctx, "/"+processName)

	var stop bool
	cmd := &cobra.Command{
		Use:   processName,
		Short: "run the ccnet gateway router",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if stop {
				return runStop(cmd.Context())
			}
			return runStart(cmd.Context())
		},
		SilenceUsage: true,
	}
	cmd.Flags().BoolVar(&stop, "stop", false, "write the local stop signal and exit")

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

func runStart(ctx context.Context) error {
	if pidfile.Exists(pidPath) {
		return exitError{code: exitPIDExists, msg: "router already running"}
	}
	if fileExists(globalStopPath) || fileExists(localStopPath) {
		consumeLocalStop()
		return exitError{code: exitStopSignal, msg: "stop signal present"}
	}

	kv, _, err := ccnetcfg.LoadKVFile("/etc/router.cfg", "/config/router.cfg")
	if err != nil {
		return exitError{code: exitConfigMissing, msg: err.Error()}
	}
	cfg, err := ccnetcfg.LoadRouterConfig(kv)
	if err != nil {
		return exitError{code: exitConfigMissing, msg: err.Error()}
	}

	ctx = ccnetlog.MakeBaseLogger(ctx, cfg.LoggingLevel, cfg.LoggingFile)

	fw, err := loadFirewall(firewallPath)
	if err != nil {
		return exitError{code: exitConfigMissing, msg: err.Error()}
	}

	self := identity.New(cfg.NodeID, "", "", "", cfg.GatewayIPv4, nil, identity.DefaultTags())

	bus := link.NewBus()
	nodeLink := bus.Attach(self.ID)
	defer nodeLink.Close()

	ifaces := router.ClassifyInterfaces(wiredInterfaces(cfg), wirelessInterfaces(cfg))

	routerCfg := router.Config{
		Self:           net.ParseIP(self.IPv4),
		Link:           nodeLink,
		Interfaces:     ifaces,
		LANCIDR:        cfg.LANSubnetCIDR,
		Gateway:        cfg.GatewayIPv4,
		Firewall:       fw,
		NATEnabled:     cfg.NATEnabled,
		WANIPv4:        net.ParseIP(cfg.WANIPv4),
		DMZHost:        net.ParseIP(cfg.DMZHost),
		Forwards:       toDNATRules(cfg.PortForwards),
		DHCPPoolStart:  cfg.DHCPPoolStart,
		DHCPPoolEnd:    cfg.DHCPPoolEnd,
		DHCPLeaseSecs:  cfg.DHCPLeaseSecs,
		LeaseStatePath: leaseStatePath,
		SSID:           cfg.SSID,
		Security:       cfg.Security,
		Channel:        cfg.Channel,
		PIDPath:        pidPath,
	}

	r, err := router.New(routerCfg)
	if err != nil {
		return exitError{code: exitConfigMissing, msg: err.Error()}
	}

	dlog.Infof(ctx, "router starting: id=%d lan=%s wan=%s ssid=%s", self.ID, cfg.LANInterface, cfg.WANInterface, cfg.SSID)

	grp := dgroup.NewGroup(ctx, dgroup.GroupConfig{
		SoftShutdownTimeout:  5 * time.Second,
		EnableSignalHandling: true,
	})
	grp.Go("router", r.Run)
	grp.Go("stats", func(ctx context.Context) error {
		return writeStatsLoop(ctx, r)
	})
	return grp.Wait()
}

// writeStatsLoop periodically persists router.stats (spec §6 persistent
// state layout), the router-side analogue of pkg/daemon's writeStats tick.
func writeStatsLoop(ctx context.Context, r *router.Router) error {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			snap := r.Stats.Snapshot(time.Now())
			line := fmt.Sprintf("packets_received=%d errors=%d packets_forwarded=%d packets_dropped=%d\n",
				snap.PacketsReceived, snap.Errors, r.PacketsForwarded(), r.PacketsDropped())
			if err := atomicfile.WriteFile(statsPath, []byte(line), 0o644); err != nil {
				dlog.Warnf(ctx, "write router stats: %v", err)
			}
		}
	}
}

func loadFirewall(path string) (*router.Firewall, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return router.NewFirewall(), nil
		}
		return nil, err
	}
	defer f.Close()
	return router.ParseFirewallRules(f)
}

func wiredInterfaces(cfg *ccnetcfg.RouterConfig) []string {
	var out []string
	if cfg.LANInterface != "" {
		out = append(out, cfg.LANInterface)
	}
	if cfg.WANInterface != "" {
		out = append(out, cfg.WANInterface)
	}
	return out
}

func wirelessInterfaces(cfg *ccnetcfg.RouterConfig) []string {
	if cfg.WLANInterface == "" {
		return nil
	}
	return []string{cfg.WLANInterface}
}

func toDNATRules(pfs []ccnetcfg.PortForward) []router.DNATRule {
	out := make([]router.DNATRule, 0, len(pfs))
	for _, pf := range pfs {
		out = append(out, router.DNATRule{
			Proto:   pf.Proto,
			WANPort: pf.DstPort,
			LANIP:   net.ParseIP(pf.LANIP),
			LANPort: pf.LANPort,
		})
	}
	return out
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
