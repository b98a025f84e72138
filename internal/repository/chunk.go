package repository

// DefaultChunkSize bounds registry IN-list queries. The older registry
// servers reject statements with very large parameter lists.
const DefaultChunkSize = 1000

func chunkStrings(ids []string, size int) [][]string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	var chunks [][]string
	for len(ids) > 0 {
		n := size
		if len(ids) < n {
			n = len(ids)
		}
		chunks = append(chunks, ids[:n])
		ids = ids[n:]
	}
	return chunks
}
