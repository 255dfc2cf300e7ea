package s3store

import (
	"context"
	"flag"
	"testing"

	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/stretchr/testify/require"

	"docsbuild.dev/docsbuild/pkg/blobstore"
	"docsbuild.dev/docsbuild/pkg/blobstore/blobstoretest"
)

var (
	bucket    = flag.String("s3_bucket", "", "bucket to run the S3 backend conformance suite against; skipped if empty")
	region    = flag.String("s3_region", "us-east-1", "region for -s3_bucket")
	endpoint  = flag.String("s3_endpoint", "", "custom S3-compatible endpoint (e.g. a local minio instance)")
	accessKey = flag.String("s3_access_key", "", "access key for -s3_bucket")
	secretKey = flag.String("s3_secret_key", "", "secret key for -s3_bucket")
)

func TestS3Store(t *testing.T) {
	if *bucket == "" {
		t.Skip("skipping: -s3_bucket not set")
	}
	blobstoretest.Test(t, func(t *testing.T) (blobstore.Backend, func()) {
		store, err := New(Config{
			Bucket:    *bucket,
			Region:    *region,
			Endpoint:  *endpoint,
			AccessKey: *accessKey,
			SecretKey: *secretKey,
		})
		require.NoError(t, err)
		return store, func() {
			_ = store.DeletePrefix(context.Background(), "")
		}
	})
}

func TestIsNotFound(t *testing.T) {
	require.True(t, isNotFound(awserr.New("NoSuchKey", "missing", nil)))
	require.True(t, isNotFound(awserr.New("NoSuchBucket", "missing", nil)))
	require.False(t, isNotFound(awserr.New("AccessDenied", "nope", nil)))
	require.False(t, isNotFound(nil))
}

func TestAlgorithmFromMetadata(t *testing.T) {
	zstd := "zstd"
	alg, err := algorithmFromMetadata(map[string]*string{metaCompression: &zstd})
	require.NoError(t, err)
	require.Equal(t, "zstd", alg.String())

	alg, err = algorithmFromMetadata(map[string]*string{})
	require.NoError(t, err)
	require.Equal(t, "zstd", alg.String())

	bogus := "not-a-real-codec"
	_, err = algorithmFromMetadata(map[string]*string{metaCompression: &bogus})
	require.Error(t, err)
}

func TestMetadataString(t *testing.T) {
	v := "text/html"
	require.Equal(t, "text/html", metadataString(map[string]*string{metaMIME: &v}, metaMIME))
	require.Equal(t, "", metadataString(map[string]*string{}, metaMIME))
}
