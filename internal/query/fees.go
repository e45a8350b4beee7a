package query

import (
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightninglabs/neutrino/cache"
	"github.com/lightninglabs/neutrino/cache/lru"

	"github.com/bwt-dev/bwt/internal/node"
)

// feeCacheTTL protects the node from fee estimation and histogram hammering.
const feeCacheTTL = 2 * time.Minute

const (
	feeCacheSize   = 32
	rawTxCacheSize = 64
	histogramKey   = 0
)

type cachedEstimate struct {
	rate    *float64
	fetched time.Time
}

func (c *cachedEstimate) Size() (uint64, error) { return 1, nil }

type cachedHistogram struct {
	bins    []node.FeeHistogramBin
	fetched time.Time
}

func (c *cachedHistogram) Size() (uint64, error) { return 1, nil }

type cachedRawTx struct {
	hex string
}

func (c *cachedRawTx) Size() (uint64, error) { return 1, nil }

type feeCache struct {
	estimates  *lru.Cache[int64, *cachedEstimate]
	histograms *lru.Cache[int, *cachedHistogram]
	rawTxs     *lru.Cache[chainhash.Hash, *cachedRawTx]
	now        func() time.Time
}

func newFeeCache() *feeCache {
	return &feeCache{
		estimates:  lru.NewCache[int64, *cachedEstimate](feeCacheSize),
		histograms: lru.NewCache[int, *cachedHistogram](1),
		rawTxs:     lru.NewCache[chainhash.Hash, *cachedRawTx](rawTxCacheSize),
		now:        time.Now,
	}
}

// FeeEstimate returns the cached sat/vB estimate for the confirmation
// target, refreshing it from the node when stale. A nil rate means the node
// has no estimate.
func (q *Query) FeeEstimate(target int64) (*float64, error) {
	if cached, err := q.fees.estimates.Get(target); err == nil {
		if q.fees.now().Sub(cached.fetched) < feeCacheTTL {
			return cached.rate, nil
		}
	} else if err != cache.ErrElementNotFound {
		return nil, err
	}

	rate, err := q.client.EstimateSmartFee(target)
	if err != nil {
		return nil, err
	}
	if _, err := q.fees.estimates.Put(target, &cachedEstimate{rate: rate, fetched: q.fees.now()}); err != nil {
		return nil, err
	}
	return rate, nil
}

// FeeHistogram returns the cached mempool fee histogram.
func (q *Query) FeeHistogram() ([]node.FeeHistogramBin, error) {
	if cached, err := q.fees.histograms.Get(histogramKey); err == nil {
		if q.fees.now().Sub(cached.fetched) < feeCacheTTL {
			return cached.bins, nil
		}
	} else if err != cache.ErrElementNotFound {
		return nil, err
	}

	bins, err := q.client.GetFeeHistogram()
	if err != nil {
		return nil, err
	}
	if _, err := q.fees.histograms.Put(histogramKey, &cachedHistogram{bins: bins, fetched: q.fees.now()}); err != nil {
		return nil, err
	}
	return bins, nil
}

// RelayFee passes the node's minimum relay feerate through.
func (q *Query) RelayFee() (float64, error) {
	return q.client.RelayFee()
}
