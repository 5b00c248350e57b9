package blob

import (
	"context"
	"fmt"
	"os"
)

// Open selects an artifact store from environment variables.
//
//	RIRCORE_BLOB_DRIVER: fs|s3|memory (default fs)
//	RIRCORE_BLOB_FS_ROOT: directory root when driver=fs (default ./artifacts)
//	(s3 variables documented in s3.go)
func Open(ctx context.Context) (Store, error) {
	driver := os.Getenv("RIRCORE_BLOB_DRIVER")
	if driver == "" {
		driver = string(DriverFilesystem)
	}
	switch Driver(driver) {
	case DriverFilesystem:
		return NewFilesystem(os.Getenv("RIRCORE_BLOB_FS_ROOT"))
	case DriverS3:
		return OpenS3FromEnv(ctx)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("blob: unknown driver %q", driver)
	}
}
