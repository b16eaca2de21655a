package semantic

import (
	"math"

	"github.com/bidcheck/bidcheck/internal/models"
)

// Pair is a cross-document chunk pair whose embeddings sit above the
// similarity threshold and therefore warrant adjudication.
type Pair struct {
	Source     models.Chunk
	Target     models.Chunk
	Similarity float64
}

// CosineSimilarity returns the cosine of the angle between two
// embedding vectors. Nil, empty, mismatched-dimension and zero-norm
// inputs yield 0, never NaN.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// SelectPairs returns every cross-document chunk pair with similarity
// at or above threshold. Chunks without embeddings are skipped.
//
// Pairing is O(n²) in chunk count, which is acceptable for
// project-scoped sets of tens to low hundreds of chunks; larger corpora
// need an index-backed nearest-neighbor pass instead.
func SelectPairs(chunks []models.Chunk, threshold float64) []Pair {
	var pairs []Pair

	for i := 0; i < len(chunks); i++ {
		if len(chunks[i].Embedding) == 0 {
			continue
		}
		for j := i + 1; j < len(chunks); j++ {
			if chunks[i].DocumentID == chunks[j].DocumentID {
				continue
			}
			if len(chunks[j].Embedding) == 0 {
				continue
			}

			sim := CosineSimilarity(chunks[i].Embedding, chunks[j].Embedding)
			if sim >= threshold {
				pairs = append(pairs, Pair{
					Source:     chunks[i],
					Target:     chunks[j],
					Similarity: sim,
				})
			}
		}
	}

	return pairs
}
