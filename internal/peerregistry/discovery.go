package peerregistry

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"github.com/nunet-edge/overlay-node/models"
)

const (
	peerProbeTimeout = 3 * time.Second
)

// HTTPClient is the minimal surface Registry needs to gossip with and
// probe peers; satisfied by *http.Client, swappable in tests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

var defaultClient HTTPClient = &http.Client{Timeout: peerProbeTimeout}

// StartDiscovery launches the gossip discovery loop: every interval
// (a fixed period; no jitter is applied), pick a random known peer, fetch its peer
// list over HTTP, and merge entries not already known. It also runs
// the health-check loop on every cycle, probing each non-self,
// non-quarantined peer and recording a misbehavior strike on failure.
func (r *Registry) StartDiscovery(client HTTPClient, interval time.Duration) {
	if client == nil {
		client = defaultClient
	}
	r.stopCh = make(chan struct{})

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-r.stopCh:
				return
			case <-ticker.C:
				r.discoveryTick(client)
				r.healthTick(client)
			}
		}
	}()
}

// StopDiscovery ends the background discovery/health loop.
func (r *Registry) StopDiscovery() {
	if r.stopCh != nil {
		close(r.stopCh)
	}
}

func (r *Registry) discoveryTick(client HTTPClient) {
	candidates := r.PeerList()
	var others []models.PeerRecord
	for _, p := range candidates {
		addr := formatAddress(p.IP, p.Port)
		if addr == r.selfAddress || r.IsQuarantined(addr) {
			continue
		}
		others = append(others, p)
	}
	if len(others) == 0 {
		return
	}

	pick := others[rand.Intn(len(others))]
	peers, err := fetchPeerList(client, pick)
	if err != nil {
		zlog.Sugar().Debugf("discovery: failed to fetch peer list from %s:%d: %v", pick.IP, pick.Port, err)
		r.RecordMisbehavior(formatAddress(pick.IP, pick.Port))
		return
	}

	if added := r.merge(peers); added > 0 {
		zlog.Sugar().Debugf("discovery: merged %d new peers via %s:%d", added, pick.IP, pick.Port)
	}
}

func (r *Registry) healthTick(client HTTPClient) {
	for _, p := range r.PeerList() {
		addr := formatAddress(p.IP, p.Port)
		if addr == r.selfAddress || r.IsQuarantined(addr) {
			continue
		}
		if err := probe(client, p); err != nil {
			r.RecordMisbehavior(addr)
		}
	}
}

func fetchPeerList(client HTTPClient, peer models.PeerRecord) ([]models.PeerRecord, error) {
	ctx, cancel := context.WithTimeout(context.Background(), peerProbeTimeout)
	defer cancel()

	url := fmt.Sprintf("http://%s:%d/peer", peer.IP, peer.Port)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("peer list request returned status %d", resp.StatusCode)
	}

	var body struct {
		Peers []models.PeerRecord `json:"peers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	return body.Peers, nil
}

func probe(client HTTPClient, peer models.PeerRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), peerProbeTimeout)
	defer cancel()

	url := fmt.Sprintf("http://%s:%d/status", peer.IP, peer.Port)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("probe returned status %d", resp.StatusCode)
	}
	return nil
}
