package uploads

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OpenPathLab/lims/internal/config"
	"github.com/OpenPathLab/lims/internal/uploads/drivers"
)

func TestNewStorageDriver(t *testing.T) {
	driver, err := NewStorageDriver(context.Background(), config.StorageConfig{Type: "local", LocalBaseDir: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &drivers.LocalFSDriver{}, driver)

	_, err = NewStorageDriver(context.Background(), config.StorageConfig{Type: "tape"})
	assert.EqualError(t, err, "unsupported storage type: tape")
}

func TestS3Endpoint(t *testing.T) {
	assert.Equal(t, "", s3Endpoint("", true))
	assert.Equal(t, "https://minio:9000", s3Endpoint("minio:9000", true))
	assert.Equal(t, "http://minio:9000", s3Endpoint("minio:9000", false))
	assert.Equal(t, "http://localhost:9000", s3Endpoint("http://localhost:9000", true))
}
