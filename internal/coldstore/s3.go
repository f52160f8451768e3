package coldstore

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/dgraph-io/ristretto/v2"
	awsconfig "github.com/scttfrdmn/cargoship/pkg/aws/config"
	cargoships3 "github.com/scttfrdmn/cargoship/pkg/aws/s3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/cut-dicl/smacc-sub001/internal/config"
	"github.com/cut-dicl/smacc-sub001/pkg/errors"
	"github.com/cut-dicl/smacc-sub001/pkg/types"
	"github.com/cut-dicl/smacc-sub001/pkg/utils"
)

// API is the subset of the S3 client used by S3Store.
type API interface {
	manager.UploadAPIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Config represents the S3 cold storage configuration
type S3Config struct {
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	ForcePathStyle  bool
	MaxRetries      int

	// Upload settings
	PartSize     int64
	Concurrency  int
	StorageClass string
	UseCargoShip bool

	// Stat cache settings
	StatCacheSize int64
	StatCacheTTL  time.Duration
}

// NewDefaultS3Config returns the default S3 settings
func NewDefaultS3Config() *S3Config {
	return &S3Config{
		Region:        "us-east-1",
		MaxRetries:    3,
		PartSize:      manager.DefaultUploadPartSize,
		Concurrency:   manager.DefaultUploadConcurrency,
		StorageClass:  string(s3types.StorageClassStandard),
		StatCacheSize: 100000,
		StatCacheTTL:  5 * time.Minute,
	}
}

// S3ConfigFrom converts the cold_storage section of the configuration file.
func S3ConfigFrom(c config.ColdStorageConfig) (*S3Config, error) {
	cfg := NewDefaultS3Config()
	if c.Region != "" {
		cfg.Region = c.Region
	}
	cfg.Endpoint = c.Endpoint
	cfg.ForcePathStyle = c.PathStyle
	cfg.UseCargoShip = c.UseCargoShip
	if c.PartSize != "" {
		n, err := utils.ParseBytes(c.PartSize)
		if err != nil {
			return nil, fmt.Errorf("invalid cold_storage part_size: %w", err)
		}
		cfg.PartSize = n
	}
	if c.Concurrency > 0 {
		cfg.Concurrency = c.Concurrency
	}
	if c.StorageClass != "" {
		cfg.StorageClass = c.StorageClass
	}
	if c.StatCacheSize > 0 {
		cfg.StatCacheSize = c.StatCacheSize
	}
	return cfg, nil
}

// S3Option configures an S3Store.
type S3Option func(*S3Store)

// WithAPI replaces the S3 client built from the configuration.
func WithAPI(api API) S3Option {
	return func(s *S3Store) {
		s.api = api
	}
}

// WithS3Logger sets the logger of the store.
func WithS3Logger(logger *logrus.Entry) S3Option {
	return func(s *S3Store) {
		s.logger = logger
	}
}

// S3Store is a Store backed by S3.
type S3Store struct {
	api      API
	uploader *manager.Uploader
	config   *S3Config
	logger   *logrus.Entry

	stats     *ristretto.Cache[string, types.ObjectInfo]
	statGroup singleflight.Group

	mu           sync.Mutex
	transporters map[string]*cargoships3.Transporter
}

// NewS3Store creates an S3 backed cold store.
func NewS3Store(ctx context.Context, cfg *S3Config, opts ...S3Option) (*S3Store, error) {
	if cfg == nil {
		cfg = NewDefaultS3Config()
	}
	if cfg.PartSize < manager.MinUploadPartSize {
		cfg.PartSize = manager.MinUploadPartSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = manager.DefaultUploadConcurrency
	}

	s := &S3Store{
		config:       cfg,
		transporters: make(map[string]*cargoships3.Transporter),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logrus.WithField("component", "s3-coldstore")
	}

	if s.api == nil {
		client, err := newS3Client(ctx, cfg)
		if err != nil {
			return nil, err
		}
		s.api = client
	}

	s.uploader = manager.NewUploader(s.api, func(u *manager.Uploader) {
		u.PartSize = cfg.PartSize
		u.Concurrency = cfg.Concurrency
	})

	if cfg.StatCacheSize > 0 {
		stats, err := ristretto.NewCache(&ristretto.Config[string, types.ObjectInfo]{
			NumCounters: cfg.StatCacheSize * 10,
			MaxCost:     cfg.StatCacheSize,
			BufferItems: 64,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create stat cache: %w", err)
		}
		s.stats = stats
	}

	s.logger.WithFields(logrus.Fields{
		"region":        cfg.Region,
		"endpoint":      cfg.Endpoint,
		"part_size":     utils.FormatBytes(cfg.PartSize),
		"concurrency":   cfg.Concurrency,
		"cargoship":     cfg.UseCargoShip,
		"storage_class": cfg.StorageClass,
	}).Info("S3 cold storage configured")
	return s, nil
}

func newS3Client(ctx context.Context, cfg *S3Config) (*s3.Client, error) {
	loadOpts := []func(*awscfg.LoadOptions) error{
		awscfg.WithRegion(cfg.Region),
	}
	if cfg.MaxRetries > 0 {
		loadOpts = append(loadOpts, awscfg.WithRetryMaxAttempts(cfg.MaxRetries))
	}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, awscfg.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)))
	}

	awsCfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.ForcePathStyle {
			o.UsePathStyle = true
		}
	}), nil
}

// Close releases the stat cache.
func (s *S3Store) Close() error {
	if s.stats != nil {
		s.stats.Close()
	}
	return nil
}

// transporter returns the cargoship transporter of bucket, or nil when the
// optimized path is disabled or the client is not a concrete S3 client.
func (s *S3Store) transporter(bucket string) *cargoships3.Transporter {
	if !s.config.UseCargoShip {
		return nil
	}
	client, ok := s.api.(*s3.Client)
	if !ok {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.transporters[bucket]; ok {
		return t
	}
	t := cargoships3.NewTransporter(client, awsconfig.S3Config{
		Bucket:             bucket,
		StorageClass:       cargoShipStorageClass(s.config.StorageClass),
		MultipartThreshold: s.config.PartSize,
		MultipartChunkSize: s.config.PartSize,
		Concurrency:        s.config.Concurrency,
	})
	s.transporters[bucket] = t
	return t
}

func cargoShipStorageClass(class string) awsconfig.StorageClass {
	switch s3types.StorageClass(class) {
	case s3types.StorageClassStandardIa:
		return awsconfig.StorageClassStandardIA
	case s3types.StorageClassOnezoneIa:
		return awsconfig.StorageClassOneZoneIA
	case s3types.StorageClassGlacier, s3types.StorageClassGlacierIr:
		return awsconfig.StorageClassGlacier
	case s3types.StorageClassDeepArchive:
		return awsconfig.StorageClassDeepArchive
	case s3types.StorageClassIntelligentTiering:
		return awsconfig.StorageClassIntelligentTiering
	default:
		return awsconfig.StorageClassStandard
	}
}

func statKey(bucket, key string) string {
	return bucket + "/" + key
}

func (s *S3Store) forget(bucket, key string) {
	if s.stats != nil {
		s.stats.Del(statKey(bucket, key))
	}
}

func (s *S3Store) Create(ctx context.Context, bucket, key string, size int64) (ObjectWriter, error) {
	if bucket == "" || key == "" {
		return nil, errors.NewError(errors.ErrCodeInvalidState, "bucket and key are required").
			WithComponent("coldstore").WithOperation("create")
	}

	pr, pw := io.Pipe()
	w := &s3Writer{
		store:  s,
		bucket: bucket,
		key:    key,
		size:   size,
		pipe:   pw,
		done:   make(chan struct{}),
	}
	go w.upload(ctx, pr)
	return w, nil
}

func (s *S3Store) Read(ctx context.Context, bucket, key string, start, stop int64) (io.ReadCloser, error) {
	if start < 0 || (stop >= 0 && stop < start) {
		return nil, errors.RangeNotSatisfiable(bucket, key, start, stop).
			WithComponent("coldstore").WithOperation("read")
	}

	input := &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}
	switch {
	case stop >= 0:
		input.Range = aws.String(fmt.Sprintf("bytes=%d-%d", start, stop))
	case start > 0:
		input.Range = aws.String(fmt.Sprintf("bytes=%d-", start))
	}

	out, err := s.api.GetObject(ctx, input)
	if err != nil {
		return nil, s.translateError(err, "read", bucket, key, start, stop)
	}
	return out.Body, nil
}

func (s *S3Store) Delete(ctx context.Context, bucket, key string) error {
	s.forget(bucket, key)
	_, err := s.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		err = s.translateError(err, "delete", bucket, key, 0, -1)
		if errors.IsCode(err, errors.ErrCodeObjectNotFound) {
			return nil
		}
		return err
	}
	return nil
}

// Stat serves sizes from the stat cache. Concurrent misses on one key share a
// single HEAD request.
func (s *S3Store) Stat(ctx context.Context, bucket, key string) (types.ObjectInfo, error) {
	sk := statKey(bucket, key)
	if s.stats != nil {
		if info, ok := s.stats.Get(sk); ok {
			return info, nil
		}
	}

	v, err, _ := s.statGroup.Do(sk, func() (interface{}, error) {
		out, err := s.api.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return types.ObjectInfo{}, s.translateError(err, "stat", bucket, key, 0, -1)
		}
		info := types.ObjectInfo{
			Bucket:       bucket,
			Key:          key,
			Size:         aws.ToInt64(out.ContentLength),
			LastModified: aws.ToTime(out.LastModified),
			Tier:         types.TierColdStorage,
		}
		if s.stats != nil && s.stats.SetWithTTL(sk, info, 1, s.config.StatCacheTTL) {
			s.stats.Wait()
		}
		return info, nil
	})
	if err != nil {
		return types.ObjectInfo{}, err
	}
	return v.(types.ObjectInfo), nil
}

func (s *S3Store) List(ctx context.Context, bucket, prefix string) ([]types.ObjectInfo, error) {
	paginator := s3.NewListObjectsV2Paginator(s.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})

	var out []types.ObjectInfo
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, s.translateError(err, "list", bucket, prefix, 0, -1)
		}
		for _, obj := range page.Contents {
			out = append(out, types.ObjectInfo{
				Bucket:       bucket,
				Key:          aws.ToString(obj.Key),
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
				Tier:         types.TierColdStorage,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *S3Store) translateError(err error, operation, bucket, key string, start, stop int64) error {
	var apiErr smithy.APIError
	switch {
	case isErrorType[*s3types.NoSuchKey](err), isErrorType[*s3types.NotFound](err):
		return errors.NotFound(bucket, key).WithComponent("coldstore").WithOperation(operation).WithCause(err)
	case stderrors.As(err, &apiErr) && apiErr.ErrorCode() == "InvalidRange":
		return errors.RangeNotSatisfiable(bucket, key, start, stop).
			WithComponent("coldstore").WithOperation(operation).WithCause(err)
	case stderrors.Is(err, context.Canceled), stderrors.Is(err, context.DeadlineExceeded):
		return err
	default:
		code := errors.ErrCodeStorageRead
		if operation == "delete" || operation == "create" {
			code = errors.ErrCodeStorageWrite
		}
		return errors.Wrap(err, code, fmt.Sprintf("%s failed for %s/%s", operation, bucket, key)).
			WithComponent("coldstore").WithOperation(operation)
	}
}

func isErrorType[T error](err error) bool {
	var target T
	return stderrors.As(err, &target)
}

var errWriterAborted = stderrors.New("writer closed before complete")

// s3Writer feeds an upload running in its own goroutine through a pipe.
type s3Writer struct {
	store   *S3Store
	bucket  string
	key     string
	size    int64
	written int64
	pipe    *io.PipeWriter

	done     chan struct{}
	err      error
	finished bool
}

func (w *s3Writer) upload(ctx context.Context, body *io.PipeReader) {
	defer func() {
		// unblock a writer still feeding a failed upload
		if w.err != nil {
			body.CloseWithError(w.err)
		} else {
			body.Close()
		}
		close(w.done)
	}()
	s := w.store
	entry := s.logger.WithFields(logrus.Fields{"bucket": w.bucket, "key": w.key})

	if t := s.transporter(w.bucket); t != nil && w.size >= 0 {
		result, err := t.Upload(ctx, cargoships3.Archive{
			Key:          w.key,
			Reader:       body,
			Size:         w.size,
			StorageClass: cargoShipStorageClass(s.config.StorageClass),
			Metadata:     map[string]string{"smacc-upload": "true"},
		})
		if err != nil {
			w.err = err
			entry.WithError(err).Warn("CargoShip upload failed")
			return
		}
		entry.WithFields(logrus.Fields{
			"throughput": result.Throughput,
			"duration":   result.Duration,
		}).Debug("CargoShip upload completed")
		return
	}

	input := &s3.PutObjectInput{
		Bucket:       aws.String(w.bucket),
		Key:          aws.String(w.key),
		Body:         body,
		StorageClass: s3types.StorageClass(s.config.StorageClass),
	}
	if _, err := s.uploader.Upload(ctx, input); err != nil {
		w.err = err
		return
	}
	entry.Debug("Upload completed")
}

func (w *s3Writer) Write(p []byte) (int, error) {
	if w.finished {
		return 0, errors.NewError(errors.ErrCodeInvalidState, "write on finished object").
			WithComponent("coldstore").WithOperation("write")
	}
	if w.size >= 0 && w.written+int64(len(p)) > w.size {
		return 0, errors.Newf(errors.ErrCodeInvalidState, "write exceeds declared size %d", w.size).
			WithComponent("coldstore").WithOperation("write")
	}
	n, err := w.pipe.Write(p)
	w.written += int64(n)
	if err != nil {
		return n, errors.Wrap(err, errors.ErrCodeStorageWrite, "upload failed").
			WithComponent("coldstore").WithOperation("write")
	}
	return n, nil
}

func (w *s3Writer) Complete() error {
	if w.finished {
		return errors.NewError(errors.ErrCodeInvalidState, "object already finished").
			WithComponent("coldstore").WithOperation("complete")
	}
	w.finished = true
	if w.size >= 0 && w.written != w.size {
		w.pipe.CloseWithError(errWriterAborted)
		<-w.done
		return errors.Newf(errors.ErrCodeWriteAborted, "wrote %d of %d bytes", w.written, w.size).
			WithComponent("coldstore").WithOperation("complete")
	}

	w.pipe.Close()
	<-w.done
	w.store.forget(w.bucket, w.key)
	if w.err != nil {
		return w.store.translateError(w.err, "create", w.bucket, w.key, 0, -1)
	}
	return nil
}

func (w *s3Writer) Close() error {
	if w.finished {
		return nil
	}
	w.finished = true
	w.pipe.CloseWithError(errWriterAborted)
	<-w.done
	return nil
}
