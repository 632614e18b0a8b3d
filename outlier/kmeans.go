package outlier

import (
	"math"
	"math/rand/v2"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const defaultMaxIterations = 100

// ClusterOptions configures Cluster.
type ClusterOptions struct {
	K             int
	Metric        Metric
	Variance      VarianceMode
	MaxIterations int
	Seed          uint64
}

// Clustering is the result of Cluster.
type Clustering struct {
	Labels    []int
	Centroids [][]float64
	Sizes     []int

	metric   Metric
	variance VarianceMode
	global   []float64   // per-dimension variance of all points
	local    [][]float64 // per-cluster, per-dimension variance
}

// K returns the number of clusters.
func (c *Clustering) K() int { return len(c.Centroids) }

// Distance returns the distance of x to centroid k under the configured
// metric.
func (c *Clustering) Distance(x []float64, k int) float64 {
	if c.metric != NormalizedEuclidean {
		return floats.Distance(x, c.Centroids[k], 2)
	}
	v := c.global
	if c.variance == PerClusterVariance && c.local != nil {
		v = c.local[k]
	}
	sum := 0.0
	for i, xi := range x {
		d := xi - c.Centroids[k][i]
		sum += d * d / v[i]
	}
	return math.Sqrt(sum)
}

// nearest returns the closest centroid; ties go to the lowest index.
func (c *Clustering) nearest(x []float64) int {
	best, bestD := 0, math.Inf(1)
	for k := range c.Centroids {
		if d := c.Distance(x, k); d < bestD {
			best, bestD = k, d
		}
	}
	return best
}

// Members returns the point indices of cluster k in ascending order.
func (c *Clustering) Members(k int) []int {
	out := make([]int, 0, c.Sizes[k])
	for i, l := range c.Labels {
		if l == k {
			out = append(out, i)
		}
	}
	return out
}

// Cluster partitions points with k-means. Seeding is k-means++ driven by
// opts.Seed, so equal inputs always give equal clusterings. Whenever
// len(points) >= K the result has exactly K non-empty clusters; with fewer
// points K is reduced to len(points).
func Cluster(points [][]float64, opts ClusterOptions) *Clustering {
	n := len(points)
	k := min(opts.K, n)
	if k < 1 {
		return &Clustering{metric: opts.Metric, variance: opts.Variance}
	}
	maxIter := opts.MaxIterations
	if maxIter <= 0 {
		maxIter = defaultMaxIterations
	}
	c := &Clustering{
		metric:   opts.Metric,
		variance: opts.Variance,
		global:   columnVariance(points, nil),
	}
	c.seed(points, k, opts.Seed)

	prev := make([]int, n)
	for i := range prev {
		prev[i] = -1
	}
	c.Labels = make([]int, n)
	for iter := 0; iter < maxIter; iter++ {
		for i, x := range points {
			c.Labels[i] = c.nearest(x)
		}
		c.repair(points)
		c.update(points)
		if slices.Equal(prev, c.Labels) {
			break
		}
		copy(prev, c.Labels)
	}
	return c
}

// seed picks k distinct initial centroids with k-means++.
func (c *Clustering) seed(points [][]float64, k int, seed uint64) {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	chosen := make([]bool, len(points))
	pick := func(i int) {
		chosen[i] = true
		c.Centroids = append(c.Centroids, append([]float64(nil), points[i]...))
	}
	pick(rng.IntN(len(points)))

	d2 := make([]float64, len(points))
	for len(c.Centroids) < k {
		total := 0.0
		for i, x := range points {
			d2[i] = 0
			if chosen[i] {
				continue
			}
			d := c.Distance(x, c.nearest(x))
			d2[i] = d * d
			total += d2[i]
		}
		next := -1
		if total > 0 {
			r := rng.Float64() * total
			for i, w := range d2 {
				if w == 0 {
					continue
				}
				next = i
				if r < w {
					break
				}
				r -= w
			}
		} else {
			for i := range points {
				if !chosen[i] {
					next = i
					break
				}
			}
		}
		pick(next)
	}
	c.Sizes = make([]int, k)
}

// repair moves points into empty clusters. The donor is the largest
// cluster, the moved point its member farthest from the centroid.
func (c *Clustering) repair(points [][]float64) {
	k := len(c.Centroids)
	sizes := make([]int, k)
	for _, l := range c.Labels {
		sizes[l]++
	}
	for e := 0; e < k; e++ {
		if sizes[e] > 0 {
			continue
		}
		donor := 0
		for j := 1; j < k; j++ {
			if sizes[j] > sizes[donor] {
				donor = j
			}
		}
		far, farD := -1, -1.0
		for i, l := range c.Labels {
			if l != donor {
				continue
			}
			if d := c.Distance(points[i], donor); d > farD {
				far, farD = i, d
			}
		}
		c.Labels[far] = e
		copy(c.Centroids[e], points[far])
		sizes[donor]--
		sizes[e]++
	}
	c.Sizes = sizes
}

// update recomputes centroids and per-cluster variances from the labels.
func (c *Clustering) update(points [][]float64) {
	k := len(c.Centroids)
	for j := 0; j < k; j++ {
		for d := range c.Centroids[j] {
			c.Centroids[j][d] = 0
		}
	}
	for i, x := range points {
		floats.Add(c.Centroids[c.Labels[i]], x)
	}
	for j := 0; j < k; j++ {
		floats.Scale(1/float64(c.Sizes[j]), c.Centroids[j])
	}
	if c.variance != PerClusterVariance {
		return
	}
	c.local = make([][]float64, k)
	for j := 0; j < k; j++ {
		members := make([][]float64, 0, c.Sizes[j])
		for i, x := range points {
			if c.Labels[i] == j {
				members = append(members, x)
			}
		}
		c.local[j] = columnVariance(members, c.global)
	}
}

// columnVariance returns the per-dimension variance of points. Dimensions
// without spread fall back to fallback, or 1 when fallback is nil.
func columnVariance(points [][]float64, fallback []float64) []float64 {
	if len(points) == 0 {
		return fallback
	}
	dim := len(points[0])
	out := make([]float64, dim)
	col := make([]float64, len(points))
	for d := 0; d < dim; d++ {
		for i, x := range points {
			col[i] = x[d]
		}
		v := math.NaN()
		if len(points) > 1 {
			_, v = stat.MeanVariance(col, nil)
		}
		switch {
		case v > 0:
			out[d] = v
		case fallback != nil:
			out[d] = fallback[d]
		default:
			out[d] = 1
		}
	}
	return out
}
