package nodestate

import (
	"context"
	"crypto/ecdsa"
	"path/filepath"
	"strconv"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/spf13/afero"

	"github.com/nunet-edge/overlay-node/internal/accounting"
	"github.com/nunet-edge/overlay-node/internal/chord"
	"github.com/nunet-edge/overlay-node/internal/chordid"
	"github.com/nunet-edge/overlay-node/internal/config"
	"github.com/nunet-edge/overlay-node/internal/dhtstore"
	"github.com/nunet-edge/overlay-node/internal/identity"
	"github.com/nunet-edge/overlay-node/internal/logger"
	"github.com/nunet-edge/overlay-node/internal/offer"
	"github.com/nunet-edge/overlay-node/internal/peerregistry"
	"github.com/nunet-edge/overlay-node/internal/resourcemonitor"
	"github.com/nunet-edge/overlay-node/models"

	"github.com/nunet-edge/overlay-node/executor"
	"github.com/nunet-edge/overlay-node/executor/docker"
	"github.com/nunet-edge/overlay-node/storage/s3"
)

var zlog = logger.New("nodestate")

// Node owns every piece of mutable state this process holds: identity,
// overlay position, peer membership, the DHT store, live resource
// stats, admitted-task bookkeeping, and the accounting journal. It is
// threaded explicitly into HTTP handlers and background loops rather
// than exposed as package-level globals. chord and peerregistry are
// built from ip:port alone and see neither the Node nor its
// IdentityLookup methods (see IdentityLookup in nodestate.go).
type Node struct {
	IP   string
	Port int

	Keypair *identity.KeyPair

	Ring     *chord.Ring
	Registry *peerregistry.Registry
	Store    *dhtstore.Store
	Monitor  *resourcemonitor.Monitor

	Allocs   *executor.AllocationTable
	Earnings *executor.Earnings
	Journal  *accounting.Journal
	Docker   executor.Executor
	Fetcher  executor.InputFetcher

	MaxGHz  float64
	Pricing models.PricingParameters
}

// New wires together every collaborator a running node needs from cfg
// and the node's own ip:port. The Docker executor is best-effort: a
// node with no reachable Docker daemon is still constructed (it can
// serve overlay/DHT/scheduler traffic; docker_image tasks it accepts
// pass admission and then fail with a clear error before any container
// is launched).
func New(cfg config.Config, ip string, port int) (*Node, error) {
	keyPath := filepath.Join(cfg.General.DataDir, "identity.pem")
	kp, err := identity.LoadOrGenerate(keyPath)
	if err != nil {
		return nil, err
	}

	ring := chord.New(ip, port)
	registry := peerregistry.New(ip, port, identity.PublicKeyHex(kp.Public), 0)
	store := dhtstore.New(ring, registry)
	monitor := resourcemonitor.New("/")

	journalPath := cfg.Job.AccountingLogPath
	if journalPath == "" {
		journalPath = filepath.Join(cfg.General.DataDir, "task_accounting.log")
	}
	journal, err := accounting.Open(journalPath, accounting.KeySigner{Priv: kp.Private})
	if err != nil {
		return nil, err
	}

	var exec executor.Executor
	if dockerExec, derr := docker.NewExecutor(context.Background(), ip+":"+strconv.Itoa(port)); derr == nil {
		if dockerExec.IsInstalled(context.Background()) {
			exec = dockerExec
		} else {
			zlog.Sugar().Warn("docker daemon not reachable, docker_image tasks will fail")
		}
	} else {
		zlog.Sugar().Warnf("failed to initialize docker executor: %v", derr)
	}

	fetcher := executor.CompositeFetcher{HTTP: executor.NewHTTPFetcher(nil)}
	if cfg.Storage.S3Region != "" {
		if s3Fetcher, serr := newS3Fetcher(context.Background(), cfg.Storage.S3Region); serr == nil {
			fetcher.S3 = s3Fetcher
		} else {
			zlog.Sugar().Warnf("failed to initialize s3 input staging, s3:// urls will fail: %v", serr)
		}
	}

	return &Node{
		IP:       ip,
		Port:     port,
		Keypair:  kp,
		Ring:     ring,
		Registry: registry,
		Store:    store,
		Monitor:  monitor,
		Allocs:   executor.NewAllocationTable(),
		Earnings: executor.NewEarnings(),
		Journal:  journal,
		Docker:   exec,
		Fetcher:  fetcher,
	}, nil
}

// newS3Fetcher builds an executor.InputFetcher backed by a real S3
// client, for nodes that advertise s3:// task inputs. Best-effort: a
// node with no usable AWS credentials still starts, it just can't
// stage s3:// inputs (see the fetcher-is-nil check in
// CompositeFetcher.Fetch, which runDockerTask calls).
func newS3Fetcher(ctx context.Context, region string) (executor.InputFetcher, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, err
	}
	store, err := s3.NewClient(awsCfg, afero.NewOsFs())
	if err != nil {
		return nil, err
	}
	return &executor.S3Fetcher{Downloader: s3.DownloaderAdapter{Storage: store}}, nil
}

// SelfChordID satisfies IdentityLookup.
func (n *Node) SelfChordID() chordid.ID {
	return n.Ring.SelfChordID()
}

// SelfAddress satisfies IdentityLookup.
func (n *Node) SelfAddress() string {
	return n.Ring.SelfAddress()
}

// PeerPublicKey satisfies IdentityLookup and dhtstore.PublicKeyResolver.
func (n *Node) PeerPublicKey(address string) (*ecdsa.PublicKey, bool) {
	return n.Registry.PeerPublicKey(address)
}

// PromisedCapacity derives the node's currently advertised capacity
// score from live hardware, per the CLI's documented precedence (the
// derived figure always wins over an operator-supplied flag).
func (n *Node) PromisedCapacity() int {
	return resourcemonitor.PromisedCapacity(n.Monitor.Snapshot(), n.MaxGHz)
}

// CurrentLoad reports the fraction of this node's advertised logical
// cores currently reserved by admitted tasks, in [0, 1].
func (n *Node) CurrentLoad() float64 {
	stats := n.Monitor.Snapshot()
	if stats.CPUCoresLogical == 0 {
		return 0
	}
	var reserved float64
	for _, a := range n.Allocs.Snapshot() {
		reserved += a.CPUCores
	}
	return reserved / float64(stats.CPUCoresLogical)
}

// Status builds the /status route's live self-report.
func (n *Node) Status() models.StatusResponse {
	id := n.SelfChordID()
	return models.StatusResponse{
		IP:               n.IP,
		Port:             n.Port,
		ChordID:          id.String(),
		ChordIDShort:     id.Short(),
		PromisedCapacity: float64(n.PromisedCapacity()),
		CurrentLoad:      n.CurrentLoad(),
		ESPActive:        len(n.Allocs.Snapshot()) > 0,
	}
}

// BuildOffer signs a fresh resource offer from the current resource
// snapshot and pricing, for /resource_offer and the periodic
// re-advertisement loop.
func (n *Node) BuildOffer() (models.Offer, error) {
	return offer.Build(n.Keypair, n.SelfChordID().String(), n.SelfAddress(), n.Monitor.Snapshot(), n.Pricing)
}
