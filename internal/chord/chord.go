// Package chord implements the 160-bit Chord overlay: finger-table
// routing, ring join/stabilization, and the /chord/* RPC boundary's
// client side. Grounded on the original edge_server chord module's
// find_successor/closest_preceding_node/stabilize/fix_fingers control
// flow, carried over to Go's mutex-guarded-struct-plus-ticker idiom
// used elsewhere in this tree (peerregistry's discovery loop).
package chord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/nunet-edge/overlay-node/internal/chordid"
	"github.com/nunet-edge/overlay-node/internal/logger"
)

var zlog = logger.New("chord")

const (
	rpcTimeout        = 5 * time.Second
	stabilizeInterval = 5 * time.Second
	bulkFixCount      = 20
	bulkFixDelay      = 200 * time.Millisecond
	bulkFixSettle     = 2 * time.Second
)

// NodeInfo is the wire representation of a ring participant exchanged
// over the /chord/* HTTP boundary.
type NodeInfo struct {
	IP      string `json:"ip"`
	Port    int    `json:"port"`
	ChordID string `json:"chord_id"`
}

func (n NodeInfo) id() chordid.ID {
	id, _ := chordid.ParseID(n.ChordID)
	return id
}

func (n NodeInfo) address() string {
	return n.IP + ":" + strconv.Itoa(n.Port)
}

func nodeInfoFor(ip string, port int) NodeInfo {
	return NodeInfo{IP: ip, Port: port, ChordID: chordid.FromAddress(ip, port).String()}
}

type fingerEntry struct {
	start chordid.ID
	node  *NodeInfo
}

// FingerView is the JSON shape of a single finger table entry returned
// by /chord/finger_table.
type FingerView struct {
	Start string    `json:"start"`
	Node  *NodeInfo `json:"node"`
}

// Analysis is the finger table health summary returned by /chord/analyze.
type Analysis struct {
	SelfReferences   int      `json:"self_references"`
	NullEntries      int      `json:"null_entries"`
	TotalEntries     int      `json:"total_entries"`
	UniqueSuccessors []string `json:"unique_successors"`
	CoveragePercent  float64  `json:"coverage_percent"`
}

// HTTPClient is the minimal surface Ring needs to call peer chord
// endpoints; satisfied by *http.Client, swappable in tests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

var defaultClient HTTPClient = &http.Client{Timeout: rpcTimeout}

// Ring holds one node's view of the Chord overlay: its own identity,
// immediate successor/predecessor, and a 160-entry finger table. All
// mutable fields are guarded by mu.
type Ring struct {
	self NodeInfo

	mu          sync.RWMutex
	successor   *NodeInfo
	predecessor *NodeInfo
	fingers     []fingerEntry

	stopCh chan struct{}
}

// New builds a Ring positioned alone: self is its own successor and
// every finger's start is precomputed but unresolved.
func New(ip string, port int) *Ring {
	self := nodeInfoFor(ip, port)
	r := &Ring{self: self}

	selfID := self.id()
	r.fingers = make([]fingerEntry, chordid.Bits)
	for i := range r.fingers {
		r.fingers[i] = fingerEntry{start: selfID.AddPow2(i)}
	}

	succ := self
	r.successor = &succ
	return r
}

// SelfChordID returns this node's ring identifier; nodestate.Node's
// IdentityLookup method of the same name delegates here.
func (r *Ring) SelfChordID() chordid.ID { return r.self.id() }

// SelfAddress returns this node's "ip:port"; nodestate.Node's
// IdentityLookup method of the same name delegates here.
func (r *Ring) SelfAddress() string { return r.self.address() }

// Successor returns this node's current successor.
func (r *Ring) Successor() NodeInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return *r.successor
}

// Predecessor returns this node's current predecessor, if any.
func (r *Ring) Predecessor() (NodeInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.predecessor == nil {
		return NodeInfo{}, false
	}
	return *r.predecessor, true
}

// FingerTable returns a snapshot of the first n finger entries. n <= 0
// or n larger than the table returns every entry; callers such as the
// /chord/finger_table route pass a small sample size rather than
// dumping all 160 entries.
func (r *Ring) FingerTable(n int) []FingerView {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if n <= 0 || n > len(r.fingers) {
		n = len(r.fingers)
	}
	out := make([]FingerView, n)
	for i := 0; i < n; i++ {
		out[i] = FingerView{Start: r.fingers[i].start.String(), Node: r.fingers[i].node}
	}
	return out
}

// Analyze reports finger table health: how many entries are still
// null, how many are self-references, and how much of the ring the
// non-trivial entries' distinct nodes cover.
func (r *Ring) Analyze() Analysis {
	r.mu.RLock()
	defer r.mu.RUnlock()

	selfID := r.self.id()
	seen := make(map[string]struct{})
	a := Analysis{TotalEntries: len(r.fingers)}
	for _, f := range r.fingers {
		switch {
		case f.node == nil:
			a.NullEntries++
		case f.node.id().Equal(selfID):
			a.SelfReferences++
		default:
			seen[f.node.address()] = struct{}{}
		}
	}
	a.UniqueSuccessors = make([]string, 0, len(seen))
	for addr := range seen {
		a.UniqueSuccessors = append(a.UniqueSuccessors, addr)
	}
	denom := a.TotalEntries - a.NullEntries
	if denom < 1 {
		denom = 1
	}
	a.CoveragePercent = float64(len(a.UniqueSuccessors)) / float64(denom) * 100
	return a
}

// FindSuccessor resolves the node responsible for id: our successor if
// id falls in (self, successor], otherwise the call is forwarded to
// the closest preceding node we know of.
func (r *Ring) FindSuccessor(ctx context.Context, client HTTPClient, id chordid.ID) (NodeInfo, error) {
	r.mu.RLock()
	self := r.self
	succ := *r.successor
	r.mu.RUnlock()

	if succ.id().Equal(self.id()) {
		return self, nil
	}
	if chordid.Between(self.id(), id, succ.id()) {
		return succ, nil
	}

	nPrime := r.closestPrecedingNode(id)
	if nPrime.id().Equal(self.id()) {
		return succ, nil
	}

	result, err := r.rpcFindSuccessor(ctx, client, nPrime, id)
	if err != nil {
		zlog.Sugar().Debugf("find_successor: forward to %s failed, falling back to successor: %v", nPrime.address(), err)
		return succ, nil
	}
	return result, nil
}

// ClosestPrecedingNode scans the finger table from the largest span
// down for the closest known node strictly between us and id.
func (r *Ring) ClosestPrecedingNode(id chordid.ID) NodeInfo {
	return r.closestPrecedingNode(id)
}

func (r *Ring) closestPrecedingNode(id chordid.ID) NodeInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	selfID := r.self.id()
	for i := len(r.fingers) - 1; i >= 0; i-- {
		f := r.fingers[i].node
		if f != nil && chordid.BetweenOpen(selfID, f.id(), id) {
			return *f
		}
	}
	return r.self
}

// Notify handles an inbound claim from candidate that it might be our
// predecessor: accepted if we have none, or candidate is closer to us
// than our current one.
func (r *Ring) Notify(candidate NodeInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()

	selfID := r.self.id()
	if r.predecessor == nil || chordid.BetweenOpen(r.predecessor.id(), candidate.id(), selfID) {
		r.predecessor = &candidate
		zlog.Sugar().Infof("updated predecessor to %s (id %d)", candidate.address(), candidate.id().Short())
	}
}

// Join contacts a bootstrap node's find_successor to locate our place
// in the ring, adopts the result as our successor, notifies it, and
// kicks off the join-time bulk finger fix.
func (r *Ring) Join(ctx context.Context, client HTTPClient, bootstrapAddr string) error {
	selfID := r.SelfChordID()

	succ, err := r.getNodeInfo(ctx, client, fmt.Sprintf("http://%s/chord/find_successor?id=%s", bootstrapAddr, selfID.String()))
	if err != nil {
		return errors.Wrap(err, "failed to contact bootstrap node")
	}

	if succ.id().Equal(selfID) {
		// Bootstrap handed back ourselves (ring of one); ask it for its
		// own successor instead so we don't self-loop.
		if alt, altErr := r.getNodeInfo(ctx, client, fmt.Sprintf("http://%s/chord/successor", bootstrapAddr)); altErr == nil && alt.ChordID != "" {
			succ = alt
		}
	}

	r.mu.Lock()
	r.successor = &succ
	r.mu.Unlock()

	zlog.Sugar().Infof("joined ring via %s, successor is %s (id %d)", bootstrapAddr, succ.address(), succ.id().Short())

	r.notifySuccessor(ctx, client)
	go r.FixAllFingers(context.Background(), client)
	return nil
}

func (r *Ring) notifySuccessor(ctx context.Context, client HTTPClient) {
	r.mu.RLock()
	self := r.self
	succ := *r.successor
	r.mu.RUnlock()

	if succ.id().Equal(self.id()) {
		return
	}

	body, err := json.Marshal(self)
	if err != nil {
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("http://%s/chord/notify", succ.address()), bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")

	if client == nil {
		client = defaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		zlog.Sugar().Debugf("failed to notify successor %s: %v", succ.address(), err)
		return
	}
	resp.Body.Close()
}

// Stabilize asks our successor for its predecessor and adopts it as
// our own successor if it lies strictly between us and our current
// one, then (re-)notifies the successor regardless.
func (r *Ring) Stabilize(ctx context.Context, client HTTPClient) {
	r.mu.RLock()
	self := r.self
	succ := *r.successor
	r.mu.RUnlock()

	if succ.id().Equal(self.id()) {
		return
	}

	x, err := r.getNodeInfo(ctx, client, fmt.Sprintf("http://%s/chord/predecessor", succ.address()))
	if err != nil || x.ChordID == "" {
		if err != nil {
			zlog.Sugar().Debugf("stabilize: could not reach successor %s: %v", succ.address(), err)
		}
		r.notifySuccessor(ctx, client)
		return
	}

	if chordid.BetweenOpen(self.id(), x.id(), succ.id()) {
		r.mu.Lock()
		r.successor = &x
		r.mu.Unlock()
		zlog.Sugar().Infof("stabilize: updated successor to %s (id %d)", x.address(), x.id().Short())
	}

	r.notifySuccessor(ctx, client)
}

// FixFinger resolves finger i's start via FindSuccessor and installs
// the result, skipping self-references. It reports whether the finger
// was updated.
func (r *Ring) FixFinger(ctx context.Context, client HTTPClient, i int) bool {
	r.mu.RLock()
	if i < 0 || i >= len(r.fingers) {
		r.mu.RUnlock()
		return false
	}
	start := r.fingers[i].start
	selfID := r.self.id()
	r.mu.RUnlock()

	succ, err := r.FindSuccessor(ctx, client, start)
	if err != nil || succ.id().Equal(selfID) {
		return false
	}

	r.mu.Lock()
	r.fingers[i].node = &succ
	r.mu.Unlock()

	zlog.Sugar().Debugf("updated finger %d to %s (id %d)", i, succ.address(), succ.id().Short())
	return true
}

// FixAllFingers primes the first min(bulkFixCount, Bits) fingers in
// sequence with a small settle delay up front and a short pause
// between each fix, so a freshly joined node's routing table isn't
// empty until the random per-tick fixer happens to cover it.
func (r *Ring) FixAllFingers(ctx context.Context, client HTTPClient) {
	time.Sleep(bulkFixSettle)
	for i := 0; i < bulkFixCount && i < len(r.fingers); i++ {
		if err := ctx.Err(); err != nil {
			return
		}
		r.FixFinger(ctx, client, i)
		time.Sleep(bulkFixDelay)
	}
}

// FixRandomFinger fixes one randomly chosen finger, the steady-state
// per-tick repair the stabilize loop performs.
func (r *Ring) FixRandomFinger(ctx context.Context, client HTTPClient) {
	i := rand.Intn(len(r.fingers))
	r.FixFinger(ctx, client, i)
}

// Start launches the background stabilization loop: every
// stabilizeInterval, Stabilize and FixRandomFinger run once each. It
// also kicks off an immediate bulk finger fix, same as a fresh
// initialize_finger_table would.
func (r *Ring) Start(client HTTPClient) {
	if client == nil {
		client = defaultClient
	}
	r.stopCh = make(chan struct{})

	go r.FixAllFingers(context.Background(), client)

	go func() {
		ticker := time.NewTicker(stabilizeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-r.stopCh:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), rpcTimeout)
				r.Stabilize(ctx, client)
				r.FixRandomFinger(ctx, client)
				cancel()
			}
		}
	}()
}

// Stop ends the background stabilization loop.
func (r *Ring) Stop() {
	if r.stopCh != nil {
		close(r.stopCh)
	}
}

func (r *Ring) rpcFindSuccessor(ctx context.Context, client HTTPClient, target NodeInfo, id chordid.ID) (NodeInfo, error) {
	return r.getNodeInfo(ctx, client, fmt.Sprintf("http://%s/chord/find_successor?id=%s", target.address(), id.String()))
}

func (r *Ring) getNodeInfo(ctx context.Context, client HTTPClient, url string) (NodeInfo, error) {
	if client == nil {
		client = defaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return NodeInfo{}, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return NodeInfo{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return NodeInfo{}, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}
	var info NodeInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return NodeInfo{}, err
	}
	return info, nil
}
