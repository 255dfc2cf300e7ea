package store

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"docsbuild.dev/docsbuild/pkg/blobstore"
	"docsbuild.dev/docsbuild/pkg/blobstore/dbstore"
	"docsbuild.dev/docsbuild/pkg/retry"
)

const moveToS3BatchSize = 1000

// MoveToS3 copies every blob out of the database backend into dest
// (normally an s3store.Store), batch by batch, retrying each upload up
// to 3 times before giving up on that blob. Every upload error is
// retried alike (retry.Always); once the attempts are used up it
// returns the error and stops. Source blobs are not deleted, and each
// call starts again from the first path, overwriting blobs already
// copied.
func MoveToS3(ctx context.Context, source *dbstore.Store, dest blobstore.Backend, log zerolog.Logger) error {
	after := ""
	moved := 0
	for {
		paths, err := source.ListPathsAfter(ctx, after, moveToS3BatchSize)
		if err != nil {
			return fmt.Errorf("store: move_to_s3: listing paths after %q: %w", after, err)
		}
		if len(paths) == 0 {
			log.Info().Int("moved", moved).Msg("move_to_s3: done")
			return nil
		}
		for _, path := range paths {
			data, alg, mimeType, err := source.GetRaw(ctx, path)
			if err != nil {
				return fmt.Errorf("store: move_to_s3: reading %s: %w", path, err)
			}
			err = retry.Do(ctx, 3, 200*time.Millisecond, retry.Always, func(attempt int) error {
				return dest.PutRaw(ctx, path, data, alg, mimeType)
			})
			if err != nil {
				return fmt.Errorf("store: move_to_s3: uploading %s after 3 attempts: %w", path, err)
			}
			moved++
		}
		after = paths[len(paths)-1]
		log.Info().Int("moved", moved).Str("cursor", after).Msg("move_to_s3: batch complete")
	}
}
