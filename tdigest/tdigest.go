// Package tdigest implements the streaming percentile estimator of §4.8
// (C8): a bounded-memory t-digest tracking per-endpoint latency
// distributions so P50/P90/P99 can be read cheaply without retaining raw
// samples. No example repo in the pack implements a t-digest, so this is
// built directly from the algorithm description in §4.8, in the style
// of this module's other bounded accumulators (memsys.Pool's fixed
// capacity, cmn/atomic's narrow wrapper API): a small struct with an
// explicit size bound and no background goroutines of its own.
package tdigest

import (
	"sort"
)

// Cluster is one centroid the digest retains: the weighted mean of the
// samples folded into it, and how many samples (its weight) that is.
type Cluster struct {
	Mean    float64
	Sum     float64 // Mean * Samples, kept for numerically stable re-merging
	Samples float64
}

// Config bounds a digest's memory footprint.
type Config struct {
	// Merged is the maximum number of clusters retained after a merge
	// pass (MAX_MERGED in §4.8).
	Merged int
	// Unmerged is how many raw samples are buffered before a merge pass
	// runs.
	Unmerged int
}

// Digest is a single-goroutine-owned t-digest; callers serialize access
// themselves (the stats gatherer owns one per endpoint behind its own
// lock, matching how it owns that endpoint's counters).
type Digest struct {
	cfg Config

	clusters []Cluster // sorted by Mean, cumulative-weight order
	total    float64

	unmerged []float64

	min, max float64
	haveMin  bool

	failedCount int
}

func New(cfg Config) *Digest {
	if cfg.Merged <= 0 {
		cfg.Merged = 200
	}
	if cfg.Unmerged <= 0 {
		cfg.Unmerged = 50
	}
	return &Digest{
		cfg:      cfg,
		clusters: make([]Cluster, 0, cfg.Merged+cfg.Unmerged),
		unmerged: make([]float64, 0, cfg.Unmerged),
	}
}

// Add folds one sample into the digest, triggering a merge pass once
// the unmerged buffer fills.
func (d *Digest) Add(x float64) {
	if !d.haveMin || x < d.min {
		d.min = x
		d.haveMin = true
	}
	if x > d.max {
		d.max = x
	}
	d.unmerged = append(d.unmerged, x)
	d.total++
	if len(d.unmerged) >= d.cfg.Unmerged {
		d.merge()
	}
}

// FailedCount reports how many times a merge pass had to relax its
// cluster-size bound to fit within Merged clusters.
func (d *Digest) FailedCount() int { return d.failedCount }

// ClusterCount returns the number of retained (already-merged)
// clusters, excluding any still-buffered unmerged samples.
func (d *Digest) ClusterCount() int { return len(d.clusters) }

type weightedPoint struct {
	mean, weight float64
}

// merge folds the unmerged buffer into d.clusters, making at most 5
// passes: each pass whose result would exceed cfg.Merged clusters bumps
// failedCount and relaxes the cluster-size bound by 1.5x for the next one;
// the last pass's result is kept even if it still exceeds the bound
// (§4.8's failed_count relaxation rule).
func (d *Digest) merge() {
	if len(d.unmerged) == 0 {
		return
	}
	points := make([]weightedPoint, 0, len(d.clusters)+len(d.unmerged))
	for _, c := range d.clusters {
		points = append(points, weightedPoint{c.Mean, c.Samples})
	}
	for _, x := range d.unmerged {
		points = append(points, weightedPoint{x, 1})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].mean < points[j].mean })

	totalWeight := 0.0
	for _, p := range points {
		totalWeight += p.weight
	}

	relax := 1.0
	var merged []Cluster
	for attempt := 0; attempt < 5; attempt++ {
		merged = mergePass(points, totalWeight, relax)
		if len(merged) <= d.cfg.Merged {
			break
		}
		d.failedCount++
		relax *= 1.5
	}
	d.clusters = merged
	d.unmerged = d.unmerged[:0]
}

// scale is the triangular approximation to the t-digest size-limit
// function: it peaks at q=0.5 (clusters may grow largest in the middle
// of the distribution) and falls linearly to 0 at both tails (clusters
// must shrink to singletons as q approaches 0 or 1).
func scale(q, compression float64) float64 {
	t := q
	if 1-q < t {
		t = 1 - q
	}
	return compression * 2 * t
}

const outerBand = 0.02

func mergePass(points []weightedPoint, totalWeight, relax float64) []Cluster {
	if totalWeight == 0 {
		return nil
	}
	compression := 100.0 * relax

	out := make([]Cluster, 0, len(points))
	var pendingMean, pendingSum, pendingWeight float64
	cumulative := 0.0
	q0 := 0.0

	flush := func() {
		if pendingWeight > 0 {
			out = append(out, Cluster{Mean: pendingMean, Sum: pendingSum, Samples: pendingWeight})
			cumulative += pendingWeight
			q0 = cumulative / totalWeight
		}
	}

	for _, p := range points {
		if pendingWeight == 0 {
			pendingMean, pendingSum, pendingWeight = p.mean, p.mean*p.weight, p.weight
			continue
		}
		q1 := (cumulative + pendingWeight + p.weight) / totalWeight
		forcedSingleton := q0 < outerBand || q0 > 1-outerBand
		fits := !forcedSingleton && scale(q1, compression)-scale(q0, compression) <= 1.0
		if fits {
			pendingSum += p.mean * p.weight
			pendingWeight += p.weight
			pendingMean = pendingSum / pendingWeight
		} else {
			flush()
			pendingMean, pendingSum, pendingWeight = p.mean, p.mean*p.weight, p.weight
		}
	}
	flush()
	return out
}

// Quantile returns the estimated value at rank q in [0,1], interpolating
// linearly between the two clusters straddling q. q<=0 and q>=1 return
// the exact observed min/max rather than an interpolated estimate
// (§4.8: "P0/P100 direct min/max").
func (d *Digest) Quantile(q float64) float64 {
	if q <= 0 || !d.haveMin {
		return d.min
	}
	if q >= 1 {
		return d.max
	}
	d.merge()
	if len(d.clusters) == 0 {
		return d.min
	}
	if len(d.clusters) == 1 {
		return d.clusters[0].Mean
	}

	target := q * d.total
	cumulative := 0.0
	for i, c := range d.clusters {
		next := cumulative + c.Samples
		if target <= next || i == len(d.clusters)-1 {
			var loMean, loCum float64
			if i == 0 {
				loMean, loCum = d.min, 0
			} else {
				prev := d.clusters[i-1]
				loMean, loCum = prev.Mean, cumulative-prev.Samples/2
			}
			hiMean := c.Mean
			hiCum := cumulative + c.Samples/2
			if hiCum <= loCum {
				return c.Mean
			}
			frac := (target - loCum) / (hiCum - loCum)
			return loMean + frac*(hiMean-loMean)
		}
		cumulative = next
	}
	return d.clusters[len(d.clusters)-1].Mean
}

// TotalSamples returns the number of samples folded in so far, whether
// or not they have been merged into clusters yet.
func (d *Digest) TotalSamples() float64 { return d.total }

// Reset clears the digest back to empty, reusing its backing storage.
func (d *Digest) Reset() {
	d.clusters = d.clusters[:0]
	d.unmerged = d.unmerged[:0]
	d.total = 0
	d.min, d.max = 0, 0
	d.haveMin = false
	d.failedCount = 0
}
