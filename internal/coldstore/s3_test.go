package coldstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cut-dicl/smacc-sub001/internal/config"
	"github.com/cut-dicl/smacc-sub001/pkg/errors"
)

// fakeS3 is an in-memory stand-in for the S3 API.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	parts   map[string]map[int32][]byte
	heads   atomic.Int64
	uploads int
}

func newFakeS3() *fakeS3 {
	return &fakeS3{
		objects: make(map[string][]byte),
		parts:   make(map[string]map[int32][]byte),
	}
}

func objectKey(bucket, key *string) string {
	return aws.ToString(bucket) + "/" + aws.ToString(key)
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[objectKey(in.Bucket, in.Key)] = data
	f.uploads++
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) CreateMultipartUpload(_ context.Context, in *s3.CreateMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := objectKey(in.Bucket, in.Key)
	f.parts[id] = make(map[int32][]byte)
	return &s3.CreateMultipartUploadOutput{UploadId: aws.String(id)}, nil
}

func (f *fakeS3) UploadPart(_ context.Context, in *s3.UploadPartInput, _ ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.parts[aws.ToString(in.UploadId)][aws.ToInt32(in.PartNumber)] = data
	return &s3.UploadPartOutput{ETag: aws.String(fmt.Sprintf("part-%d", aws.ToInt32(in.PartNumber)))}, nil
}

func (f *fakeS3) CompleteMultipartUpload(_ context.Context, in *s3.CompleteMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := aws.ToString(in.UploadId)
	parts := f.parts[id]
	numbers := make([]int, 0, len(parts))
	for n := range parts {
		numbers = append(numbers, int(n))
	}
	sort.Ints(numbers)
	var buf bytes.Buffer
	for _, n := range numbers {
		buf.Write(parts[int32(n)])
	}
	f.objects[id] = buf.Bytes()
	delete(f.parts, id)
	f.uploads++
	return &s3.CompleteMultipartUploadOutput{}, nil
}

func (f *fakeS3) AbortMultipartUpload(_ context.Context, in *s3.AbortMultipartUploadInput, _ ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.parts, aws.ToString(in.UploadId))
	return &s3.AbortMultipartUploadOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	data, ok := f.objects[objectKey(in.Bucket, in.Key)]
	f.mu.Unlock()
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}

	start, stop := int64(0), int64(len(data))-1
	if r := aws.ToString(in.Range); r != "" {
		spec := strings.TrimPrefix(r, "bytes=")
		parts := strings.SplitN(spec, "-", 2)
		fmt.Sscanf(parts[0], "%d", &start)
		if parts[1] != "" {
			fmt.Sscanf(parts[1], "%d", &stop)
		}
	}
	if start >= int64(len(data)) || stop >= int64(len(data)) {
		return nil, &smithy.GenericAPIError{Code: "InvalidRange", Message: "range not satisfiable"}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data[start : stop+1]))}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.heads.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[objectKey(in.Bucket, in.Key)]
	if !ok {
		return nil, &s3types.NotFound{}
	}
	return &s3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(data))),
		LastModified:  aws.Time(time.Unix(1700000000, 0)),
	}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, objectKey(in.Bucket, in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	bucket := aws.ToString(in.Bucket) + "/"
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	for id, data := range f.objects {
		if !strings.HasPrefix(id, bucket) {
			continue
		}
		key := strings.TrimPrefix(id, bucket)
		if !strings.HasPrefix(key, aws.ToString(in.Prefix)) {
			continue
		}
		out.Contents = append(out.Contents, s3types.Object{
			Key:  aws.String(key),
			Size: aws.Int64(int64(len(data))),
		})
	}
	return out, nil
}

func newTestS3Store(t *testing.T) (*S3Store, *fakeS3) {
	t.Helper()
	api := newFakeS3()
	s, err := NewS3Store(context.Background(), NewDefaultS3Config(), WithAPI(api))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, api
}

func TestS3StoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, api := newTestS3Store(t)

	write(t, s, "bucket", "dir/key", "hello world")
	assert.Equal(t, 1, api.uploads)

	assert.Equal(t, "hello world", readString(t, s, "bucket", "dir/key", 0, -1))
	assert.Equal(t, "world", readString(t, s, "bucket", "dir/key", 6, 10))
	assert.Equal(t, "world", readString(t, s, "bucket", "dir/key", 6, -1))

	info, err := s.Stat(ctx, "bucket", "dir/key")
	require.NoError(t, err)
	assert.Equal(t, int64(11), info.Size)
	assert.Equal(t, "bucket", info.Bucket)

	write(t, s, "bucket", "dir/another", "x")
	write(t, s, "bucket", "top", "y")
	listed, err := s.List(ctx, "bucket", "dir/")
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, "dir/another", listed[0].Key)
	assert.Equal(t, "dir/key", listed[1].Key)

	require.NoError(t, s.Delete(ctx, "bucket", "dir/key"))
	_, err = s.Stat(ctx, "bucket", "dir/key")
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestS3StoreAbortedWriterUploadsNothing(t *testing.T) {
	s, api := newTestS3Store(t)

	w, err := s.Create(context.Background(), "bucket", "k", -1)
	require.NoError(t, err)
	_, err = w.Write([]byte("partial"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	assert.Zero(t, api.uploads)
	_, err = s.Read(context.Background(), "bucket", "k", 0, -1)
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestS3StoreShortWriteAborts(t *testing.T) {
	s, api := newTestS3Store(t)

	w, err := s.Create(context.Background(), "bucket", "k", 10)
	require.NoError(t, err)
	_, err = w.Write([]byte("abc"))
	require.NoError(t, err)
	assert.ErrorIs(t, w.Complete(), errors.ErrWriteAborted)
	assert.NoError(t, w.Close())
	assert.Zero(t, api.uploads)
}

func TestS3StoreStatIsCached(t *testing.T) {
	ctx := context.Background()
	s, api := newTestS3Store(t)
	write(t, s, "bucket", "k", "abc")

	for i := 0; i < 3; i++ {
		info, err := s.Stat(ctx, "bucket", "k")
		require.NoError(t, err)
		assert.Equal(t, int64(3), info.Size)
	}
	assert.Equal(t, int64(1), api.heads.Load())

	// a new upload invalidates the cached size
	write(t, s, "bucket", "k", "abcdef")
	info, err := s.Stat(ctx, "bucket", "k")
	require.NoError(t, err)
	assert.Equal(t, int64(6), info.Size)
	assert.Equal(t, int64(2), api.heads.Load())
}

func TestS3StoreReadErrors(t *testing.T) {
	s, _ := newTestS3Store(t)
	write(t, s, "bucket", "k", "abc")

	_, err := s.Read(context.Background(), "bucket", "missing", 0, -1)
	assert.ErrorIs(t, err, errors.ErrNotFound)

	_, err = s.Read(context.Background(), "bucket", "k", 1, 5)
	assert.ErrorIs(t, err, errors.ErrRangeNotSatisfiable)

	_, err = s.Read(context.Background(), "bucket", "k", 2, 1)
	assert.ErrorIs(t, err, errors.ErrRangeNotSatisfiable)
}

func TestS3ConfigFrom(t *testing.T) {
	cfg, err := S3ConfigFrom(config.ColdStorageConfig{
		Backend:      "s3",
		Region:       "eu-west-1",
		Endpoint:     "http://localhost:9000",
		PathStyle:    true,
		PartSize:     "16MB",
		Concurrency:  8,
		UseCargoShip: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "eu-west-1", cfg.Region)
	assert.Equal(t, "http://localhost:9000", cfg.Endpoint)
	assert.True(t, cfg.ForcePathStyle)
	assert.Equal(t, int64(16<<20), cfg.PartSize)
	assert.Equal(t, 8, cfg.Concurrency)
	assert.True(t, cfg.UseCargoShip)
	assert.Equal(t, "STANDARD", cfg.StorageClass)

	_, err = S3ConfigFrom(config.ColdStorageConfig{PartSize: "lots"})
	assert.Error(t, err)
}
