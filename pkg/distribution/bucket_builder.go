package distribution

import (
	"github.com/pkg/errors"
)

// BucketBuilder assigns rows to numbered output buckets, one per downstream
// node. The variant is fixed at construction; Assign does not re-dispatch on
// the kind per row.
//
// BucketBuilder is not safe for concurrent use: the returned slice is reused
// by the next call to Assign.
type BucketBuilder struct {
	kind       Kind
	numBuckets int
	column     int

	all     []int
	scratch []int
	assign  func(b *BucketBuilder, row Row) ([]int, error)
}

// NewBroadcastBucketBuilder returns a builder assigning every row to all
// numBuckets buckets.
func NewBroadcastBucketBuilder(numBuckets int) *BucketBuilder {
	b := newBucketBuilder(Broadcast, numBuckets, 0)
	b.assign = assignAll
	return b
}

// NewModuloBucketBuilder returns a builder assigning every row to the bucket
// hash(row[column]) mod numBuckets. Rows with a nil key go to bucket 0.
func NewModuloBucketBuilder(numBuckets, column int) *BucketBuilder {
	b := newBucketBuilder(Modulo, numBuckets, column)
	if numBuckets == 1 {
		b.assign = assignFirst
	} else {
		b.assign = assignModulo
	}
	return b
}

func newBucketBuilder(kind Kind, numBuckets, column int) *BucketBuilder {
	if numBuckets < 1 {
		panic("bucket builder needs at least one bucket")
	}
	all := make([]int, numBuckets)
	for i := range all {
		all[i] = i
	}
	return &BucketBuilder{
		kind:       kind,
		numBuckets: numBuckets,
		column:     column,
		all:        all,
		scratch:    make([]int, 1),
	}
}

// Kind returns the distribution kind this builder implements.
func (b *BucketBuilder) Kind() Kind {
	return b.kind
}

// BucketCount returns the number of buckets.
func (b *BucketBuilder) BucketCount() int {
	return b.numBuckets
}

// PartitionColumn returns the key column of a modulo builder.
func (b *BucketBuilder) PartitionColumn() int {
	return b.column
}

// Assign returns the indices of the buckets row belongs to.
func (b *BucketBuilder) Assign(row Row) ([]int, error) {
	return b.assign(b, row)
}

func assignAll(b *BucketBuilder, _ Row) ([]int, error) {
	return b.all, nil
}

func assignFirst(b *BucketBuilder, row Row) ([]int, error) {
	if b.column >= len(row) {
		return nil, errPartitionColumnOutOfRange(b.column, len(row))
	}
	b.scratch[0] = 0
	return b.scratch, nil
}

func assignModulo(b *BucketBuilder, row Row) ([]int, error) {
	if b.column >= len(row) {
		return nil, errPartitionColumnOutOfRange(b.column, len(row))
	}
	b.scratch[0] = int(HashValue(row[b.column]) % uint32(b.numBuckets))
	return b.scratch, nil
}

func errPartitionColumnOutOfRange(column, width int) error {
	return errors.Errorf("partition column %d, row with only %d columns", column, width)
}
