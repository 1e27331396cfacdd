// Command lockd runs the lock-replicator daemon wiring: a daemon.RealContext,
// a registry.Registry with its background sweep, a transport.TCP sender, and
// a transport.Listener that routes inbound replica acknowledgments into
// registry.Dispatch. It does not accept LOCK/UNLOCK requests itself: nothing
// in this binary calls registry.Register, so the registry starts and stays
// empty unless other code registers replicators.
//
// Flag-based configuration and the go-logging level wiring below follow
// consensus/manager_test.go's own "-test.loglevel flag feeding
// logging.SetLevel" idiom, generalized from a test entry point to the
// daemon's real one.
package main

import (
	"flag"
	"time"

	statsd "github.com/cactus/go-statsd-client/v5/statsd"
	"github.com/op/go-logging"

	"github.com/lockkv/replicator/daemon"
	"github.com/lockkv/replicator/message"
	"github.com/lockkv/replicator/node"
	"github.com/lockkv/replicator/registry"
	"github.com/lockkv/replicator/topology"
	"github.com/lockkv/replicator/transport"
)

var logger = logging.MustGetLogger("lockd")

// noopStatter embeds statsd.Statter and overrides only the methods this
// daemon actually calls, so -statsd-addr can be left unset without wiring
// a real client.
type noopStatter struct {
	statsd.Statter
}

func (noopStatter) Inc(string, int64, float32) error   { return nil }
func (noopStatter) Gauge(string, int64, float32) error { return nil }

func main() {
	listenAddr := flag.String("listen", ":7300", "address to accept replica acknowledgments on")
	dc := flag.String("dc", "dc1", "local datacenter id")
	replication := flag.Uint("replication", 3, "desired replication factor")
	resendMs := flag.Uint64("resend-interval-ms", 50, "minimum gap between resends to the same replica")
	jitterMs := flag.Uint64("resend-jitter-ms", 20, "random padding added on top of resend-interval-ms")
	gcGraceMs := flag.Uint64("gc-grace-ms", 30000, "how long a finished operation is kept before eviction")
	sweepInterval := flag.Duration("sweep-interval", time.Second, "how often the background sweep runs")
	logLevel := flag.String("log-level", "INFO", "go-logging level name")
	statsdAddr := flag.String("statsd-addr", "", "statsd endpoint, e.g. 127.0.0.1:8125 (disabled if empty)")
	flag.Parse()

	level, err := logging.LogLevel(*logLevel)
	if err != nil {
		logger.Fatalf("invalid -log-level %q: %v", *logLevel, err)
	}
	logging.SetLevel(level, "")

	var stats statsd.Statter = noopStatter{}
	if *statsdAddr != "" {
		c, err := statsd.NewClientWithConfig(&statsd.ClientConfig{Address: *statsdAddr, Prefix: "lockd"})
		if err != nil {
			logger.Fatalf("statsd client: %v", err)
		}
		stats = c
	}

	self := node.NewCommId()
	sender := transport.NewTCP(self, 2*time.Second)
	// TODO: no peer discovery yet — sender.AddPeer is never called, so
	// sender.Resolve can't identify any inbound connection until something
	// populates the peer table (manual -peer flags, a gossip round, etc.).

	cfg := topology.NewConfiguration(topology.NewMD5Partitioner(), uint32(*replication))

	clock := daemon.RealTimeClock
	ctx := daemon.NewRealContext(cfg, topology.DatacenterID(*dc), clock, *resendMs, *jitterMs, sender, stats)

	reg := registry.NewRegistry(ctx, *gcGraceMs, stats)
	reg.Start(*sweepInterval)
	defer reg.Stop()

	ln, err := transport.NewListener(*listenAddr, sender.Resolve, func(from node.CommId, ack *message.KVSLockAck) {
		rs := &topology.ReplicaSet{
			Generation:         ack.Generation,
			NumReplicas:        ack.NumReplicas,
			DesiredReplication: ack.DesiredReplication,
		}
		reg.Dispatch(ack.StateKey, from, ack.TG, rs)
	})
	if err != nil {
		logger.Fatalf("listen on %s: %v", *listenAddr, err)
	}
	defer ln.Close()

	logger.Infof("lockd listening on %s, dc=%s, replication=%d", *listenAddr, *dc, *replication)
	select {}
}
