package parallel

// Shard is a contiguous index range [Start, End) of the input.
type Shard struct {
	Index int
	Start int
	End   int
}

// Len is the number of records in the shard.
func (s Shard) Len() int { return s.End - s.Start }

// Partition splits n records into k contiguous shards whose sizes differ by
// at most one. Earlier shards take the remainder. When k > n the trailing
// shards are empty. k < 1 is treated as 1.
func Partition(n, k int) []Shard {
	if k < 1 {
		k = 1
	}
	if n < 0 {
		n = 0
	}
	base, rem := n/k, n%k
	shards := make([]Shard, k)
	start := 0
	for i := range shards {
		size := base
		if i < rem {
			size++
		}
		shards[i] = Shard{Index: i, Start: start, End: start + size}
		start += size
	}
	return shards
}
