package node

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/btcsuite/btcd/btcjson"

	"github.com/bwt-dev/bwt/internal/utils"
)

// vsizeBinWidth is the bucket width of the mempool fee histogram, in vbytes.
const vsizeBinWidth = 50_000

// EstimateSmartFee returns the estimated feerate in sat/vB for confirmation
// within target blocks, or nil when the node has no estimate yet.
func (c *Client) EstimateSmartFee(target int64) (satPerVb *float64, err error) {
	started := time.Now()
	defer func() { c.observe("estimate_smart_fee", err, started) }()

	mode := btcjson.EstimateModeConservative
	result, err := c.rpc.EstimateSmartFee(target, &mode)
	if err != nil {
		return nil, err
	}
	if result.FeeRate == nil || *result.FeeRate <= 0 {
		return nil, nil
	}
	rate := utils.BtcPerKvbToSatPerVb(*result.FeeRate)
	return &rate, nil
}

// RelayFee returns the node's minimum relay feerate in sat/vB.
func (c *Client) RelayFee() (satPerVb float64, err error) {
	started := time.Now()
	defer func() { c.observe("relay_fee", err, started) }()

	raw, err := c.rawRequest("getnetworkinfo")
	if err != nil {
		return 0, err
	}
	var info struct {
		RelayFee float64 `json:"relayfee"`
	}
	if err := json.Unmarshal(raw, &info); err != nil {
		return 0, err
	}
	return utils.BtcPerKvbToSatPerVb(info.RelayFee), nil
}

// GetFeeHistogram scans the verbose mempool and buckets it into
// (feerate, vsize) bins of decreasing feerate, vsizeBinWidth vbytes each.
func (c *Client) GetFeeHistogram() (histogram []FeeHistogramBin, err error) {
	started := time.Now()
	defer func() { c.observe("get_fee_histogram", err, started) }()

	raw, err := c.rawRequest("getrawmempool", true)
	if err != nil {
		return nil, err
	}
	var entries map[string]MempoolEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, err
	}
	return buildFeeHistogram(entries), nil
}

// buildFeeHistogram buckets mempool entries into bins of decreasing feerate.
func buildFeeHistogram(entries map[string]MempoolEntry) []FeeHistogramBin {
	type sized struct {
		vsize   uint64
		feerate float64
	}
	all := make([]sized, 0, len(entries))
	for _, entry := range entries {
		if entry.Vsize <= 0 {
			continue
		}
		fee, err := utils.BtcToSats(entry.Fees.Base)
		if err != nil {
			continue
		}
		all = append(all, sized{
			vsize:   uint64(entry.Vsize),
			feerate: float64(fee) / float64(entry.Vsize),
		})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].feerate > all[j].feerate })

	histogram := []FeeHistogramBin{}
	var binSize uint64
	lastFeerate := 0.0
	for _, e := range all {
		binSize += e.vsize
		if binSize > vsizeBinWidth && e.feerate != lastFeerate {
			histogram = append(histogram, FeeHistogramBin{Feerate: e.feerate, Vsize: binSize})
			binSize = 0
		}
		lastFeerate = e.feerate
	}
	if binSize > 0 {
		histogram = append(histogram, FeeHistogramBin{Feerate: lastFeerate, Vsize: binSize})
	}
	return histogram
}
