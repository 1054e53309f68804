package datasets

// PartitionBy returns one bucket per value holding the items whose key equals
// that value, in input order. Values matching no item get an empty bucket.
func PartitionBy[T any, K comparable](items []T, key func(T) K, values []K) [][]T {
	buckets := make([][]T, len(values))
	index := make(map[K][]int, len(values))
	for i, v := range values {
		buckets[i] = []T{}
		index[v] = append(index[v], i)
	}
	for _, item := range items {
		for _, i := range index[key(item)] {
			buckets[i] = append(buckets[i], item)
		}
	}
	return buckets
}
