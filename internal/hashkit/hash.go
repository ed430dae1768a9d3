// Package hashkit implements the key hash functions and the ketama/modula/
// random distributors used to pick a backend server for a routing key.
package hashkit

import (
	"crypto/md5"
	"hash/crc32"
	"hash/fnv"

	"github.com/spaolacci/murmur3"
)

// HashFunc maps a key to a 32-bit hash value.
type HashFunc func(key []byte) uint32

// HashTag reduces key to its routing substring according to a two-char
// tag pair, e.g. "{}" selects the text between the first '{' and the
// next '}'. An absent, empty, or malformed tag falls back to the full
// key, per spec.md §4.6.
func HashTag(key []byte, tag string) []byte {
	if len(tag) != 2 {
		return key
	}
	open, close := tag[0], tag[1]
	start := -1
	for i, b := range key {
		if b == open {
			start = i
			break
		}
	}
	if start < 0 {
		return key
	}
	end := -1
	for i := start + 1; i < len(key); i++ {
		if key[i] == close {
			end = i
			break
		}
	}
	if end < 0 || end == start+1 {
		return key
	}
	return key[start+1 : end]
}

// Name identifies one of the twelve configured hash functions.
type Name string

const (
	OneAtATime Name = "one_at_a_time"
	MD5        Name = "md5"
	CRC16      Name = "crc16"
	CRC32      Name = "crc32"
	CRC32a     Name = "crc32a"
	FNV1_64    Name = "fnv1_64"
	FNV1a64    Name = "fnv1a_64"
	FNV1_32    Name = "fnv1_32"
	FNV1a32    Name = "fnv1a_32"
	Hsieh      Name = "hsieh"
	Murmur     Name = "murmur"
	Jenkins    Name = "jenkins"
)

// Lookup resolves a configured hash name to its implementation. Unknown
// names fall back to fnv1a_64, the pool default.
func Lookup(n Name) HashFunc {
	if f, ok := registry[n]; ok {
		return f
	}
	return registry[FNV1a64]
}

var registry = map[Name]HashFunc{
	OneAtATime: oneAtATime,
	MD5:        hashMD5,
	CRC16:      crc16,
	CRC32:      func(k []byte) uint32 { return crc32.ChecksumIEEE(k) },
	CRC32a:     crc32a,
	FNV1_64:    fnv1_64,
	FNV1a64:    fnv1a64,
	FNV1_32:    fnv1_32,
	FNV1a32:    fnv1a32,
	Hsieh:      hsieh,
	Murmur:     murmurHash,
	Jenkins:    jenkinsOneAtATime,
}

// oneAtATime is Bob Jenkins' "one-at-a-time" hash, reproduced bit-for-bit
// from the reference implementation; no general-purpose hash library
// targets this exact mixing sequence, so it is hand-rolled (see
// DESIGN.md).
func oneAtATime(key []byte) uint32 {
	var h uint32
	for _, c := range key {
		h += uint32(c)
		h += h << 10
		h ^= h >> 6
	}
	h += h << 3
	h ^= h >> 11
	h += h << 15
	return h
}

// jenkinsOneAtATime is an alias kept distinct from oneAtATime because the
// reference proxy exposes both "one_at_a_time" and "jenkins" as separate
// configuration names, even though they are the same algorithm.
func jenkinsOneAtATime(key []byte) uint32 { return oneAtATime(key) }

func hashMD5(key []byte) uint32 {
	sum := md5.Sum(key)
	return uint32(sum[0]) | uint32(sum[1])<<8 | uint32(sum[2])<<16 | uint32(sum[3])<<24
}

// crc16 is the CCITT (XModem) variant used by the reference hashkit.
func crc16(key []byte) uint32 {
	var crc uint16
	for _, b := range key {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return uint32(crc)
}

var crc32aTable = crc32.MakeTable(crc32.Castagnoli)

func crc32a(key []byte) uint32 { return crc32.Checksum(key, crc32aTable) }

func fnv1_64(key []byte) uint32 {
	h := fnv.New64()
	h.Write(key)
	return uint32(h.Sum64())
}

func fnv1a64(key []byte) uint32 {
	h := fnv.New64a()
	h.Write(key)
	return uint32(h.Sum64())
}

func fnv1_32(key []byte) uint32 {
	h := fnv.New32()
	h.Write(key)
	return h.Sum32()
}

func fnv1a32(key []byte) uint32 {
	h := fnv.New32a()
	h.Write(key)
	return h.Sum32()
}

// hsieh is Paul Hsieh's SuperFastHash, reproduced from the reference
// hashkit; not available from any example library, hand-rolled.
func hsieh(data []byte) uint32 {
	length := len(data)
	if length == 0 {
		return 0
	}
	hash := uint32(length)
	rem := length & 3
	length >>= 2

	get16 := func(b []byte) uint32 { return uint32(b[0]) | uint32(b[1])<<8 }

	i := 0
	for ; length > 0; length-- {
		hash += get16(data[i:])
		tmp := (get16(data[i+2:]) << 11) ^ hash
		hash = hash<<16 ^ tmp
		i += 4
		hash += hash >> 11
	}

	switch rem {
	case 3:
		hash += get16(data[i:])
		hash ^= hash << 16
		hash ^= uint32(data[i+2]) << 18
		hash += hash >> 11
	case 2:
		hash += get16(data[i:])
		hash ^= hash << 11
		hash += hash >> 17
	case 1:
		hash += uint32(data[i])
		hash ^= hash << 10
		hash += hash >> 1
	}

	hash ^= hash << 3
	hash += hash >> 5
	hash ^= hash << 4
	hash += hash >> 17
	hash ^= hash << 25
	hash += hash >> 6
	return hash
}

// murmurHash is twemproxy's "murmur" hash: MurmurHash2 with a fixed seed
// of 0. github.com/spaolacci/murmur3 implements MurmurHash3, a different
// algorithm with different output, so it cannot stand in here without
// breaking wire compatibility with keys hashed elsewhere; it is instead
// used as an independent cross-check in the continuum tests (see
// DESIGN.md).
func murmurHash(key []byte) uint32 {
	const m = 0x5bd1e995
	const r = 24
	seed := uint32(0)
	length := len(key)
	h := seed ^ uint32(length)

	i := 0
	for length >= 4 {
		k := uint32(key[i]) | uint32(key[i+1])<<8 | uint32(key[i+2])<<16 | uint32(key[i+3])<<24
		k *= m
		k ^= k >> r
		k *= m
		h *= m
		h ^= k
		i += 4
		length -= 4
	}

	switch length {
	case 3:
		h ^= uint32(key[i+2]) << 16
		fallthrough
	case 2:
		h ^= uint32(key[i+1]) << 8
		fallthrough
	case 1:
		h ^= uint32(key[i])
		h *= m
	}

	h ^= h >> 13
	h *= m
	h ^= h >> 15
	return h
}

// Murmur3Reference exposes the ecosystem murmur3 implementation used by
// the continuum's cross-check tests, where we only need a second,
// independently-implemented hash to confirm point placement is stable
// under hash churn, not bit-compatibility with the wire hash.
func Murmur3Reference(key []byte) uint32 {
	return murmur3.Sum32(key)
}
