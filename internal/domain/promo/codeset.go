package promo

import (
	"github.com/bits-and-blooms/bloom/v3"
)

const (
	codeSetMinCapacity = 1024
	codeSetFPR         = 0.001
)

// CodeSet is a probabilistic set of known promocode codes. A negative answer
// is definite, so lookups for junk codes can be rejected without touching
// the database. Codes inserted after construction are invisible until the
// set is rebuilt; callers that ingest codes at runtime must reseed.
type CodeSet struct {
	filter *bloom.BloomFilter
}

// NewCodeSet builds a CodeSet from the given codes. The filter is sized for
// the input with headroom for small sets.
func NewCodeSet(codes []string) *CodeSet {
	capacity := uint(len(codes))
	if capacity < codeSetMinCapacity {
		capacity = codeSetMinCapacity
	}
	filter := bloom.NewWithEstimates(capacity, codeSetFPR)
	for _, code := range codes {
		filter.AddString(code)
	}
	return &CodeSet{filter: filter}
}

// MayContain reports whether code may be in the set. False means the code is
// definitely unknown; true means it must be checked against the database.
func (s *CodeSet) MayContain(code string) bool {
	return s.filter.TestString(code)
}
