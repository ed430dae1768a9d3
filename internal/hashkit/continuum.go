package hashkit

import (
	"crypto/md5"
	"fmt"
	"math/rand"
	"sort"
)

// Distribution selects the continuum construction and dispatch rule.
type Distribution string

const (
	Ketama Distribution = "ketama"
	Modula Distribution = "modula"
	Random Distribution = "random"
)

// Point is one entry of the continuum: a hash value and the index of the
// server it routes to. Ketama sorts by Value; modula/random leave it
// unused.
type Point struct {
	Value uint32
	Index int
}

// WeightedServer is the minimal shape the continuum builder needs from a
// live backend.
type WeightedServer struct {
	Name   string
	Weight uint32
	Index  int // index into the pool's live server slice
}

// Continuum is the sorted array of hash points a distributor dispatches
// against.
type Continuum struct {
	dist   Distribution
	points []Point
}

// Build constructs a continuum for the given distribution over the live
// server set. For ketama it places weighted MD5-derived points and sorts
// them ascending; for modula it places one point per weight unit; for
// random no points are needed.
func Build(dist Distribution, servers []WeightedServer) *Continuum {
	c := &Continuum{dist: dist}
	switch dist {
	case Ketama:
		c.points = buildKetama(servers)
	case Modula:
		c.points = buildModula(servers)
	default:
		c.points = nil
	}
	return c
}

func totalWeight(servers []WeightedServer) uint64 {
	var total uint64
	for _, s := range servers {
		total += uint64(s.Weight)
	}
	return total
}

// buildKetama follows spec.md §3/§4.7: for each live server s with weight
// w_s, place floor(w_s/sum(w) * 160 * nlive / 4) * 4 points, four per MD5
// digest of "<name>-<i>", taking the digest's four little-endian 32-bit
// words as the four point values.
func buildKetama(servers []WeightedServer) []Point {
	total := totalWeight(servers)
	if total == 0 {
		return nil
	}
	nlive := len(servers)
	var points []Point
	for _, s := range servers {
		ptsPerServer := (uint64(s.Weight) * 160 * uint64(nlive) / total) / 4 * 4
		nHashes := ptsPerServer / 4
		for i := uint64(0); i < nHashes; i++ {
			digest := md5.Sum([]byte(fmt.Sprintf("%s-%d", s.Name, i)))
			for w := 0; w < 4; w++ {
				v := uint32(digest[w*4]) |
					uint32(digest[w*4+1])<<8 |
					uint32(digest[w*4+2])<<16 |
					uint32(digest[w*4+3])<<24
				points = append(points, Point{Value: v, Index: s.Index})
			}
		}
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Value < points[j].Value })
	return points
}

func buildModula(servers []WeightedServer) []Point {
	var points []Point
	for _, s := range servers {
		for w := uint32(0); w < s.Weight; w++ {
			points = append(points, Point{Index: s.Index})
		}
	}
	return points
}

// Dispatch maps a hash value to a live server index for the ketama and
// modula distributions. For random (or any other) distribution it returns
// -1; random selection goes through DispatchRandom with the live server
// count instead.
func (c *Continuum) Dispatch(hash uint32) int {
	switch c.dist {
	case Ketama:
		return c.dispatchKetama(hash)
	case Modula:
		if len(c.points) == 0 {
			return -1
		}
		return c.points[hash%uint32(len(c.points))].Index
	default:
		return -1
	}
}

func (c *Continuum) dispatchKetama(hash uint32) int {
	if len(c.points) == 0 {
		return -1
	}
	// Binary search for the least point with Value >= hash, wrapping to
	// the first point if hash is past the last one.
	lo, hi := 0, len(c.points)
	for lo < hi {
		mid := (lo + hi) / 2
		if c.points[mid].Value < hash {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo == len(c.points) {
		lo = 0
	}
	return c.points[lo].Index
}

// DispatchRandom returns a uniformly random index in [0, nlive).
func DispatchRandom(nlive int) int {
	if nlive <= 0 {
		return -1
	}
	return rand.Intn(nlive)
}

// Len returns the number of points in the continuum.
func (c *Continuum) Len() int { return len(c.points) }

// Points exposes the sorted point array for tests (P5 ordering check).
func (c *Continuum) Points() []Point { return c.points }
