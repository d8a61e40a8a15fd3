package store

import (
	"context"
	"fmt"

	"github.com/OFFIS-RIT/toolgraph/backend/pkg/ai"
	"golang.org/x/sync/errgroup"
)

func ChunkRange(total, chunkSize int, fn func(start, end int) error) error {
	if total <= 0 {
		return nil
	}
	if chunkSize <= 0 {
		chunkSize = total
	}
	for start := 0; start < total; start += chunkSize {
		end := min(start+chunkSize, total)
		if err := fn(start, end); err != nil {
			return err
		}
	}
	return nil
}

func DedupeStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// GenerateEmbeddings embeds inputs in batches of batchSize. Batches run
// concurrently; the client's own semaphore bounds real parallelism.
func GenerateEmbeddings(
	ctx context.Context,
	client ai.EmbeddingClient,
	inputs [][]byte,
	batchSize int,
) ([][]float32, error) {
	if client == nil {
		return nil, fmt.Errorf("ai client is nil")
	}
	if len(inputs) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(inputs))

	eg, ectx := errgroup.WithContext(ctx)
	err := ChunkRange(len(inputs), batchSize, func(start, end int) error {
		eg.Go(func() error {
			res, err := client.GenerateEmbeddings(ectx, inputs[start:end])
			if err != nil {
				return err
			}
			if len(res) != end-start {
				return fmt.Errorf("embedding batch size mismatch: got %d want %d", len(res), end-start)
			}
			copy(out[start:end], res)
			return nil
		})
		return ectx.Err()
	})
	if waitErr := eg.Wait(); waitErr != nil {
		return nil, waitErr
	}
	if err != nil {
		return nil, err
	}

	return out, nil
}
