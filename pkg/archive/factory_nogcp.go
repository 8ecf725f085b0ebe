//go:build !gcp

package archive

import (
	"context"
	"fmt"
)

// GCS support is opt-in via the gcp build tag, keeping the default binary
// free of the GCP client tree.
func newGCSStore(_ context.Context, _ Options) (Store, error) {
	return nil, fmt.Errorf("archive: gcs backend requires building with -tags gcp")
}
