// Package scheduler implements the task auction: DHT discovery,
// requirement/price filtering, price-sorted selection, bounded-timeout
// dispatch to one or more executors, checksum verification, and
// plurality consensus across redundant dispatches. Grounded on
// original_source/edge_server/scheduler.py's schedule_task, with the
// Open Question over its per-peer DHT sweep resolved by deduplicating
// lookup targets (see Discover) rather than querying every known peer
// record unconditionally (see LegacyDiscover, kept for parity testing).
package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/nunet-edge/overlay-node/internal/accounting"
	"github.com/nunet-edge/overlay-node/internal/chord"
	"github.com/nunet-edge/overlay-node/internal/dhtstore"
	"github.com/nunet-edge/overlay-node/internal/logger"
	"github.com/nunet-edge/overlay-node/internal/offer"
	"github.com/nunet-edge/overlay-node/models"
)

var zlog = logger.New("scheduler")

const dispatchTimeout = 10 * time.Second

// HTTPClient is the minimal surface the dispatch step needs; satisfied
// by *http.Client, swappable in tests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

var defaultClient HTTPClient = &http.Client{Timeout: dispatchTimeout}

// eligibleOffer pairs an Offer with its estimated hourly price for
// this task, when a price cap was requested.
type eligibleOffer struct {
	Offer          models.Offer
	EstimatedPrice float64
	PriceKnown     bool
}

// Discover resolves offers for every distinct chord_id among peers,
// deduplicated before the DHT lookup: the corrected single-lookup path
// named in the Open Question, issuing exactly one lookup per distinct
// target rather than one per known-peer record.
func Discover(ctx context.Context, client dhtstore.HTTPClient, ring *chord.Ring, peers []models.PeerRecord) []models.Offer {
	seen := make(map[string]bool)
	var all []models.Offer
	for _, p := range peers {
		if p.ChordID == "" || seen[p.ChordID] {
			continue
		}
		seen[p.ChordID] = true

		offers, err := dhtstore.DiscoverOffersByChordID(ctx, client, ring, p.ChordID)
		if err != nil {
			zlog.Sugar().Debugf("discover: lookup for %s failed: %v", p.ChordID, err)
			continue
		}
		all = append(all, offers...)
	}
	return all
}

// LegacyDiscover reproduces the original scheduler's per-peer DHT
// sweep verbatim: one lookup per peer record, with no deduplication
// even when multiple records share a chord_id. ScheduleTask never
// calls this; it exists for parity testing against Discover.
func LegacyDiscover(ctx context.Context, client dhtstore.HTTPClient, ring *chord.Ring, peers []models.PeerRecord) []models.Offer {
	var all []models.Offer
	for _, p := range peers {
		if p.ChordID == "" {
			continue
		}
		offers, err := dhtstore.DiscoverOffersByChordID(ctx, client, ring, p.ChordID)
		if err != nil {
			zlog.Sugar().Debugf("legacy discover: lookup for %s failed: %v", p.ChordID, err)
			continue
		}
		all = append(all, offers...)
	}
	return all
}

// FilterEligible keeps fresh offers meeting reqs. maxPriceUSD <= 0 is
// the in-process sentinel for "no price cap", since
// TaskDescriptor.MaxPriceUSD is a plain float64, not a pointer.
func FilterEligible(offers []models.Offer, reqs models.ResourceRequirements, maxPriceUSD float64, now time.Time) []eligibleOffer {
	var out []eligibleOffer
	for _, o := range offers {
		if !offer.IsFresh(o, now) {
			continue
		}
		if float64(o.SystemStats.CPUCoresLogical) < reqs.CPUCores || o.SystemStats.MemoryAvailableGB < reqs.RAMGB {
			continue
		}

		eo := eligibleOffer{Offer: o}
		if maxPriceUSD > 0 {
			price := reqs.CPUCores*o.PricingParameters.CPUPerHourUSD + reqs.RAMGB*o.PricingParameters.RAMGBPerHourUSD
			if price > maxPriceUSD {
				continue
			}
			eo.EstimatedPrice = price
			eo.PriceKnown = true
		}
		out = append(out, eo)
	}
	return out
}

// Select takes the first redundantK eligible offers: sorted ascending
// by estimated price when a cap was requested, otherwise in discovery
// order.
func Select(eligible []eligibleOffer, maxPriceUSD float64, redundantK int) []eligibleOffer {
	if maxPriceUSD > 0 {
		sort.SliceStable(eligible, func(i, j int) bool {
			return eligible[i].EstimatedPrice < eligible[j].EstimatedPrice
		})
	}
	if redundantK > 0 && redundantK < len(eligible) {
		return eligible[:redundantK]
	}
	return eligible
}

// DispatchOutcome is one selected offer's dispatch result.
type DispatchOutcome struct {
	NodeAddress   string             `json:"executor"`
	AgreedPrice   *float64           `json:"agreed_price,omitempty"`
	Result        *models.TaskResult `json:"result,omitempty"`
	ChecksumValid *bool              `json:"checksum_valid,omitempty"`
	Error         string             `json:"error,omitempty"`
}

// Outcome is ScheduleTask's overall return value, shaped to match
// schedule_task's non-redundant and redundant response bodies.
type Outcome struct {
	TaskID            string             `json:"task_id,omitempty"`
	Executor          string             `json:"executor,omitempty"`
	AgreedPrice       *float64           `json:"agreed_price,omitempty"`
	Result            *models.TaskResult `json:"result,omitempty"`
	ChecksumValid     *bool              `json:"checksum_valid,omitempty"`
	RedundantResults  []DispatchOutcome  `json:"redundant_results,omitempty"`
	ConsensusChecksum string             `json:"consensus_checksum,omitempty"`
	ConsensusCount    int                `json:"consensus_count,omitempty"`
	ConsensusValid    *bool              `json:"consensus_valid,omitempty"`
	Error             string             `json:"error,omitempty"`
}

// ScheduleTask runs the full discovery -> filter -> select -> dispatch
// -> verify -> consensus pipeline for one task against redundantK
// selected executors. redundantK <= 0 is treated as 1 (no redundancy).
func ScheduleTask(ctx context.Context, client HTTPClient, dhtClient dhtstore.HTTPClient, ring *chord.Ring, peers []models.PeerRecord, journal *accounting.Journal, task models.TaskDescriptor, redundantK int) Outcome {
	if redundantK <= 0 {
		redundantK = 1
	}

	offers := Discover(ctx, dhtClient, ring, peers)
	eligible := FilterEligible(offers, task.ResourceRequirements, task.MaxPriceUSD, time.Now().UTC())
	selected := Select(eligible, task.MaxPriceUSD, redundantK)

	if len(selected) == 0 {
		return Outcome{Error: "no eligible nodes found for task requirements"}
	}

	results := make([]DispatchOutcome, len(selected))
	for i, eo := range selected {
		results[i] = dispatchOne(ctx, client, journal, task, eo)
	}

	if redundantK > 1 {
		return consensusOutcome(results, redundantK)
	}

	for _, r := range results {
		if r.Result != nil {
			return Outcome{
				TaskID:        task.TaskID,
				Executor:      r.NodeAddress,
				AgreedPrice:   r.AgreedPrice,
				Result:        r.Result,
				ChecksumValid: r.ChecksumValid,
			}
		}
	}
	return Outcome{Error: results[len(results)-1].Error}
}

func dispatchOne(ctx context.Context, client HTTPClient, journal *accounting.Journal, task models.TaskDescriptor, eo eligibleOffer) DispatchOutcome {
	outcome := DispatchOutcome{NodeAddress: eo.Offer.NodeAddress}
	if eo.PriceKnown {
		price := eo.EstimatedPrice
		outcome.AgreedPrice = &price
	}

	logErr := func(err error) {
		if err != nil {
			zlog.Sugar().Warnf("failed to write accounting entry: %v", err)
		}
	}

	_, err := journal.Append(models.AccountingEventScheduledToNode, task.TaskID, eo.Offer.NodeID, map[string]interface{}{
		"executor":     eo.Offer.NodeAddress,
		"agreed_price": outcome.AgreedPrice,
	})
	logErr(err)

	body, err := json.Marshal(task)
	if err != nil {
		outcome.Error = err.Error()
		return outcome
	}

	dispatchCtx, cancel := context.WithTimeout(ctx, dispatchTimeout)
	defer cancel()

	url := fmt.Sprintf("http://%s/execute_task", eo.Offer.NodeAddress)
	req, err := http.NewRequestWithContext(dispatchCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		outcome.Error = err.Error()
		return outcome
	}
	req.Header.Set("Content-Type", "application/json")

	if client == nil {
		client = defaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		_, aerr := journal.Append(models.AccountingEventDispatchFailed, task.TaskID, eo.Offer.NodeID, map[string]interface{}{
			"executor": eo.Offer.NodeAddress, "error": err.Error(),
		})
		logErr(aerr)
		outcome.Error = fmt.Sprintf("failed to dispatch task to %s: %v", eo.Offer.NodeAddress, err)
		return outcome
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, aerr := journal.Append(models.AccountingEventDispatchFailed, task.TaskID, eo.Offer.NodeID, map[string]interface{}{
			"executor": eo.Offer.NodeAddress, "status": resp.StatusCode,
		})
		logErr(aerr)
		outcome.Error = fmt.Sprintf("executor %s returned status %d", eo.Offer.NodeAddress, resp.StatusCode)
		return outcome
	}

	var result models.TaskResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		outcome.Error = fmt.Sprintf("failed to decode result from %s: %v", eo.Offer.NodeAddress, err)
		return outcome
	}
	outcome.Result = &result

	if expected, ok := task.Payload["expected_output_checksum"].(string); ok && expected != "" {
		valid := expected == result.Checksum
		outcome.ChecksumValid = &valid
		_, aerr := journal.Append(models.AccountingEventChecksumVerified, task.TaskID, eo.Offer.NodeID, map[string]interface{}{
			"expected_checksum": expected,
			"actual_checksum":   result.Checksum,
			"checksum_valid":    valid,
		})
		logErr(aerr)
	}

	_, aerr := journal.Append(models.AccountingEventAcceptedByNode, task.TaskID, eo.Offer.NodeID, map[string]interface{}{
		"executor":       eo.Offer.NodeAddress,
		"agreed_price":   outcome.AgreedPrice,
		"checksum_valid": outcome.ChecksumValid,
	})
	logErr(aerr)
	return outcome
}

// consensusOutcome tallies output_checksum values across results and
// accepts the plurality checksum if its count reaches ⌊redundantK/2⌋+1.
func consensusOutcome(results []DispatchOutcome, redundantK int) Outcome {
	counts := make(map[string]int)
	for _, r := range results {
		if r.Result != nil && r.Result.Checksum != "" {
			counts[r.Result.Checksum]++
		}
	}
	if len(counts) == 0 {
		invalid := false
		return Outcome{RedundantResults: results, ConsensusValid: &invalid}
	}

	var best string
	bestCount := 0
	for cksum, count := range counts {
		if count > bestCount {
			best, bestCount = cksum, count
		}
	}

	valid := bestCount >= redundantK/2+1
	return Outcome{
		RedundantResults:  results,
		ConsensusChecksum: best,
		ConsensusCount:    bestCount,
		ConsensusValid:    &valid,
	}
}
