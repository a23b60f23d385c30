package vault

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"bt/internal/bt"
	"bt/internal/config"
)

// S3Vault stores objects in an S3-compatible bucket under
// <prefix>/content/<digest> and <prefix>/metadata/<host_id>. Content and
// metadata may target distinct buckets/prefixes so they can carry separate
// lifecycle or storage-class policies.
//
// Multipart uploads through the transfer manager complete atomically on the
// provider side; an aborted upload leaves no observable object.
type S3Vault struct {
	name       string
	client     *s3.Client
	uploader   *manager.Uploader
	downloader *manager.Downloader

	contentBucket  string
	contentPrefix  string
	metadataBucket string
	metadataPrefix string
}

// NewS3Vault builds an S3 vault from its config block. Credentials come from
// the SDK default chain unless static keys are configured.
func NewS3Vault(ctx context.Context, vc config.VaultConfig) (*S3Vault, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if vc.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(vc.Region))
	}
	if vc.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(vc.AccessKeyID, vc.SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if vc.Endpoint != "" {
			o.BaseEndpoint = aws.String(vc.Endpoint)
			o.UsePathStyle = true
		}
	})

	v := &S3Vault{
		name:           vc.Name,
		client:         client,
		uploader:       manager.NewUploader(client),
		downloader:     manager.NewDownloader(client),
		contentBucket:  vc.Bucket,
		contentPrefix:  vc.Prefix,
		metadataBucket: vc.MetadataBucket,
		metadataPrefix: vc.MetadataPrefix,
	}
	if v.metadataBucket == "" {
		v.metadataBucket = vc.Bucket
	}
	if v.metadataPrefix == "" {
		v.metadataPrefix = vc.Prefix
	}
	return v, nil
}

func (v *S3Vault) Name() string { return v.name }

func (v *S3Vault) contentKey(digest string) string {
	return strings.TrimPrefix(path.Join(v.contentPrefix, "content", digest), "/")
}

func (v *S3Vault) metadataKey(hostID string) string {
	return strings.TrimPrefix(path.Join(v.metadataPrefix, "metadata", hostID), "/")
}

// PutContent uploads sourcePath under the content digest. A HeadObject
// probe makes re-uploads of existing digests a cheap no-op; the source is
// verified against the digest before any bytes leave the host.
func (v *S3Vault) PutContent(ctx context.Context, digest, sourcePath string) error {
	key := v.contentKey(digest)

	_, err := v.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(v.contentBucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return nil
	}
	if !isNotFound(err) {
		return classify("probing content", err)
	}

	actual, err := hashFile(sourcePath)
	if err != nil {
		return err
	}
	if actual != digest {
		return fmt.Errorf("content %s hashed to %s: %w", digest, actual, bt.ErrCorrupt)
	}

	f, err := os.Open(sourcePath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", sourcePath, err)
	}
	defer f.Close()

	_, err = v.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(v.contentBucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return classify("uploading content", err)
	}
	return nil
}

// GetContent downloads the object to outputPath and verifies its digest.
func (v *S3Vault) GetContent(ctx context.Context, digest, outputPath string) error {
	err := v.download(ctx, v.contentBucket, v.contentKey(digest), outputPath)
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("content %s: %w", digest, bt.ErrNotFound)
		}
		return classify("downloading content", err)
	}

	actual, err := hashFile(outputPath)
	if err != nil {
		return err
	}
	if actual != digest {
		os.Remove(outputPath)
		return fmt.Errorf("content %s downloaded as %s: %w", digest, actual, bt.ErrCorrupt)
	}
	return nil
}

// PutMetadata uploads the metadata database to the host's slot. The bucket
// may have versioning enabled to retain prior copies; this client just
// overwrites.
func (v *S3Vault) PutMetadata(ctx context.Context, hostID, sourcePath string) error {
	f, err := os.Open(sourcePath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", sourcePath, err)
	}
	defer f.Close()

	_, err = v.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(v.metadataBucket),
		Key:    aws.String(v.metadataKey(hostID)),
		Body:   f,
	})
	if err != nil {
		return classify("uploading metadata", err)
	}
	return nil
}

// GetMetadata downloads the host's metadata blob.
func (v *S3Vault) GetMetadata(ctx context.Context, hostID, outputPath string) error {
	err := v.download(ctx, v.metadataBucket, v.metadataKey(hostID), outputPath)
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("metadata for host %s: %w", hostID, bt.ErrNotFound)
		}
		return classify("downloading metadata", err)
	}
	return nil
}

// ValidateSetup roundtrips a probe object through both namespaces.
func (v *S3Vault) ValidateSetup(ctx context.Context) error {
	probes := []struct{ bucket, key string }{
		{v.contentBucket, v.contentKey(".bt-probe")},
		{v.metadataBucket, v.metadataKey(".bt-probe")},
	}
	for _, p := range probes {
		_, err := v.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(p.bucket),
			Key:    aws.String(p.key),
			Body:   strings.NewReader("probe"),
		})
		if err != nil {
			return classify("writing probe object", err)
		}

		out, err := v.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(p.bucket),
			Key:    aws.String(p.key),
		})
		if err != nil {
			return classify("reading probe object", err)
		}
		out.Body.Close()

		_, err = v.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(p.bucket),
			Key:    aws.String(p.key),
		})
		if err != nil {
			return classify("deleting probe object", err)
		}
	}
	return nil
}

// download streams an object to outputPath via the transfer manager,
// removing the partial file on failure.
func (v *S3Vault) download(ctx context.Context, bucket, key, outputPath string) error {
	f, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("creating %s: %w", outputPath, err)
	}

	_, err = v.downloader.Download(ctx, f, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(outputPath)
		return err
	}
	return nil
}

// isNotFound matches the missing-object shapes the S3 API produces.
func isNotFound(err error) bool {
	var noKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noKey) || errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "NotFound"
}

// classify maps an S3 error onto the error taxonomy: credential problems are
// AuthDenied, missing objects NotFound, everything else (timeouts, 5xx,
// connection resets) Transient and worth a retry.
func classify(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken", "TokenRefreshRequired":
			return fmt.Errorf("%s: %w: %w", op, err, bt.ErrAuthDenied)
		case "NoSuchKey", "NoSuchBucket", "NotFound":
			return fmt.Errorf("%s: %w: %w", op, err, bt.ErrNotFound)
		}
	}
	return fmt.Errorf("%s: %w: %w", op, err, bt.ErrTransient)
}

// Compile-time check.
var _ bt.Vault = (*S3Vault)(nil)
