package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/nunet-edge/overlay-node/internal/config"
	"github.com/nunet-edge/overlay-node/internal/dhtstore"
	"github.com/nunet-edge/overlay-node/internal/httpapi"
	"github.com/nunet-edge/overlay-node/internal/logger"
	"github.com/nunet-edge/overlay-node/internal/nodestate"
	"github.com/nunet-edge/overlay-node/internal/resourcemonitor"
)

func main() {
	ip := flag.String("ip", "127.0.0.1", "this node's advertised IP address")
	port := flag.Int("port", 5000, "this node's listen port")
	bootstrap := flag.String("bootstrap", "", "address (ip:port) of an existing ring node to join through")
	debug := flag.Bool("debug", false, "enable verbose logging")
	// promised_capacity is accepted for compatibility with the
	// original launcher's flag surface; the effective capacity is
	// always the one resourcemonitor derives from live hardware.
	_ = flag.Float64("promised_capacity", 0, "accepted for compatibility, has no effect")
	flag.Parse()

	cfg := *config.GetConfig()
	cfg.General.Debug = *debug
	cfg.Rest.Port = *port
	cfg.Overlay.BootstrapPeer = *bootstrap

	zlog := logger.New("main")

	node, err := nodestate.New(cfg, *ip, *port)
	if err != nil {
		log.Fatalf("failed to initialize node: %v", err)
	}
	defer node.Journal.Close()

	node.MaxGHz = resourcemonitor.DetectMaxGHz(context.Background())

	sampleInterval := time.Duration(cfg.Job.ResourceSampleIntervalSeconds) * time.Second
	if sampleInterval <= 0 {
		sampleInterval = 60 * time.Second
	}
	if err := node.Monitor.Start(sampleInterval); err != nil {
		log.Fatalf("failed to start resource monitor: %v", err)
	}

	// The self peer record was seeded with promised_capacity=0 at
	// construction time, before the first resource sample existed;
	// refresh it now that a real figure is available.
	selfRecord, _ := node.Registry.Peer(node.SelfAddress())
	selfRecord.IP, selfRecord.Port = *ip, *port
	selfRecord.ChordID = node.SelfChordID().String()
	selfRecord.PromisedCapacity = float64(node.PromisedCapacity())
	node.Registry.UpdatePeer(selfRecord)

	discoveryInterval := time.Duration(cfg.Job.DiscoveryIntervalSeconds) * time.Second
	if discoveryInterval <= 0 {
		discoveryInterval = 3 * time.Second
	}
	node.Registry.StartDiscovery(nil, discoveryInterval)

	node.Ring.Start(nil)
	if *bootstrap != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := node.Ring.Join(ctx, nil, *bootstrap); err != nil {
			zlog.Sugar().Warnf("failed to join ring via %s: %v", *bootstrap, err)
		}
		cancel()
	}

	stopAdvertising := dhtstore.StartAdvertising(nil, node.Ring, node.Keypair, node.BuildOffer)
	defer stopAdvertising()

	addr := fmt.Sprintf("%s:%d", *ip, *port)
	server := httpapi.New(node)
	zlog.Sugar().Infof("node %s (chord id %d) listening on %s", addr, node.SelfChordID().Short(), addr)
	if err := server.ListenAndServe(addr, "cert.pem", "key.pem"); err != nil {
		log.Fatalf("http server exited: %v", err)
	}
}
