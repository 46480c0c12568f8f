// Package storage persists uploaded audio artifacts behind a small port so
// the pipeline can run on local disk or S3.
package storage

import "context"

// FileStorage stores audio artifacts under opaque paths.
// Delete on a missing path is not an error.
type FileStorage interface {
	Save(ctx context.Context, jobID, originalFilename string, data []byte) (path string, err error)
	Delete(ctx context.Context, path string) error
	Exists(ctx context.Context, path string) (bool, error)
}
