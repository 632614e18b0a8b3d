package outlier

import (
	"math"
	"sort"

	"github.com/maastricht-university/codebook-trainer/features"
)

// KMeansStage returns a keep-mask over ms. With joint clustering the enabled
// channels are concatenated; with separate clustering every enabled channel
// runs the strategy on its own and a mapping survives only if every channel
// keeps it.
func KMeansStage(ms []features.Mapping, p KMeansParams, seed uint64) []bool {
	keep := make([]bool, len(ms))
	for i := range keep {
		keep[i] = true
	}
	chans := p.Check.Enabled()
	if len(ms) == 0 || len(chans) == 0 {
		return keep
	}
	if !p.Separate {
		run(ms, chans, p.NumClusters, p.Deviations.General, p, seed, keep)
		return keep
	}
	for i, c := range chans {
		run(ms, []Channel{c}, p.Clusters.For(c), p.Deviations.For(c), p, seed+uint64(i)*1000003, keep)
	}
	return keep
}

func run(ms []features.Mapping, chans []Channel, k int, tol float64, p KMeansParams, seed uint64, keep []bool) {
	src := make([][]float64, len(ms))
	tgt := make([][]float64, len(ms))
	for i, m := range ms {
		src[i] = values(m.Source, chans)
		tgt[i] = values(m.Target, chans)
	}
	e := eliminator{p: p}
	var local []bool
	switch p.Strategy {
	case LeastLikely:
		local = e.leastLikely(src, tgt, k, seed)
	case SubclusterMeanDistance:
		local = e.mismatch(src, tgt, k, tol, seed, max(p.SubClusterDepth, 1))
	default:
		local = e.mismatch(src, tgt, k, tol, seed, 0)
	}
	for i, ok := range local {
		if !ok {
			keep[i] = false
		}
	}
}

type eliminator struct {
	p KMeansParams
}

func (e eliminator) cluster(points [][]float64, k int, seed uint64) *Clustering {
	return Cluster(points, ClusterOptions{
		K:             k,
		Metric:        e.p.Metric,
		Variance:      e.p.Variance,
		MaxIterations: e.p.MaxIterations,
		Seed:          seed,
	})
}

// mismatch clusters the source and the target side independently and drops
// mappings whose two sides disagree. For a mapping m in source cluster s
// whose target lies in target cluster t, let e be the target cluster most
// members of s map to. m is dropped when
//
//	dist(target_m, centroid_e) - dist(target_m, centroid_t) > tol × mean_own
//
// where mean_own is the mean distance of all targets to their own centroid.
// The same test runs in the reverse direction. With depth > 0 every source
// cluster is refined recursively with NumSubClusters clusters.
func (e eliminator) mismatch(src, tgt [][]float64, k int, tol float64, seed uint64, depth int) []bool {
	keep := make([]bool, len(src))
	for i := range keep {
		keep[i] = true
	}
	cs := e.cluster(src, k, seed)
	ct := e.cluster(tgt, k, seed+1)
	if cs.K() == 0 {
		return keep
	}
	inconsistent(cs, ct, tgt, tol, keep)
	inconsistent(ct, cs, src, tol, keep)

	sub := e.p.NumSubClusters
	if depth <= 0 || sub < 2 {
		return keep
	}
	for c := 0; c < cs.K(); c++ {
		var idx []int
		for _, i := range cs.Members(c) {
			if keep[i] {
				idx = append(idx, i)
			}
		}
		if len(idx) < 2*sub {
			continue
		}
		ss := make([][]float64, len(idx))
		st := make([][]float64, len(idx))
		for j, i := range idx {
			ss[j], st[j] = src[i], tgt[i]
		}
		subKeep := e.mismatch(ss, st, sub, tol, seed*31+uint64(c)+1, depth-1)
		for j, ok := range subKeep {
			if !ok {
				keep[idx[j]] = false
			}
		}
	}
	return keep
}

// inconsistent applies the mismatch test from the "from" clustering to the
// "to" clustering of the other side's points.
func inconsistent(from, to *Clustering, points [][]float64, tol float64, keep []bool) {
	expected := make([]int, from.K())
	for c := range expected {
		votes := make([]int, to.K())
		for _, i := range from.Members(c) {
			votes[to.Labels[i]]++
		}
		best := 0
		for t, v := range votes {
			if v > votes[best] {
				best = t
			}
		}
		expected[c] = best
	}

	own := make([]float64, len(points))
	mean := 0.0
	for i, x := range points {
		own[i] = to.Distance(x, to.Labels[i])
		mean += own[i]
	}
	mean /= float64(len(points))

	for i, x := range points {
		exp := expected[from.Labels[i]]
		if exp == to.Labels[i] {
			continue
		}
		if gap := to.Distance(x, exp) - own[i]; gap > tol*mean {
			keep[i] = false
		}
	}
}

// leastLikely clusters the joint source|target vectors, fits a diagonal
// Gaussian to every cluster and drops the EliminationLikelihood fraction of
// members with the lowest likelihood.
func (e eliminator) leastLikely(src, tgt [][]float64, k int, seed uint64) []bool {
	keep := make([]bool, len(src))
	for i := range keep {
		keep[i] = true
	}
	joint := make([][]float64, len(src))
	for i := range src {
		joint[i] = append(append([]float64(nil), src[i]...), tgt[i]...)
	}
	cl := Cluster(joint, ClusterOptions{
		K:             k,
		Metric:        e.p.Metric,
		Variance:      PerClusterVariance,
		MaxIterations: e.p.MaxIterations,
		Seed:          seed,
	})
	for c := 0; c < cl.K(); c++ {
		members := cl.Members(c)
		drop := int(math.Floor(e.p.EliminationLikelihood * float64(len(members))))
		if drop == 0 {
			continue
		}
		ll := make(map[int]float64, len(members))
		for _, i := range members {
			ll[i] = logLikelihood(joint[i], cl.Centroids[c], cl.local[c])
		}
		sort.SliceStable(members, func(a, b int) bool { return ll[members[a]] < ll[members[b]] })
		for _, i := range members[:drop] {
			keep[i] = false
		}
	}
	return keep
}

func logLikelihood(x, mean, variance []float64) float64 {
	sum := 0.0
	for i := range x {
		d := x[i] - mean[i]
		sum += d*d/variance[i] + math.Log(2*math.Pi*variance[i])
	}
	return -0.5 * sum
}
