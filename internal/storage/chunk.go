package storage

// Chunk splits ids into slices of at most size elements. Oversized IN clauses
// and unbounded multi-row transactions are both capped with this.
func Chunk(ids []int64, size int) [][]int64 {
	if size < 1 || len(ids) == 0 {
		if len(ids) == 0 {
			return nil
		}
		return [][]int64{ids}
	}
	var out [][]int64
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		out = append(out, ids[start:end])
	}
	return out
}
