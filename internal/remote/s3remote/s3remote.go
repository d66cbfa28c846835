// Package s3remote stores the remote namespace in an S3 compatible bucket.
package s3remote

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/openmined/treesync/internal/remote"
	"github.com/openmined/treesync/internal/utils"
)

// md5MetaKey is the user metadata entry holding the content MD5. S3 lower cases
// metadata keys.
const md5MetaKey = "md5"

const delimiter = "/"

type Config struct {
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
	// Endpoint switches to path style addressing, for MinIO and other S3 compatible stores
	Endpoint      string
	UseAccelerate bool
	// Prefix is prepended to every key
	Prefix string
}

func (c *Config) Validate() error {
	if c.Bucket == "" {
		return errors.New("s3 bucket is required")
	}
	if (c.AccessKey == "") != (c.SecretKey == "") {
		return errors.New("s3 access key and secret key must be set together")
	}
	return nil
}

// s3API is the subset of *s3.Client used here.
type s3API interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

type Client struct {
	api    s3API
	config *Config
	hasher remote.Hasher
}

type Option func(*Client)

// WithHasher sets the hasher used for local files, typically a hash cache.
func WithHasher(h remote.Hasher) Option {
	return func(c *Client) {
		if h != nil {
			c.hasher = h
		}
	}
}

// New builds an S3 client from cfg. Without static keys the default AWS
// credential chain is used.
func New(ctx context.Context, cfg *Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	httpClient := &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			MaxIdleConns:          20,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			ForceAttemptHTTP2:     true,
		},
	}

	loadOpts := []func(*config.LoadOptions) error{
		config.WithHTTPClient(httpClient),
	}
	if cfg.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	api := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
		if cfg.UseAccelerate {
			o.UseAccelerate = true
		}
	})

	return newClient(api, cfg, opts...), nil
}

func newClient(api s3API, cfg *Config, opts ...Option) *Client {
	c := &Client{
		api:    api,
		config: cfg,
		hasher: remote.DefaultHasher,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) key(p string) string {
	return remote.Join(remote.CleanRoot(c.config.Prefix), p)
}

func (c *Client) logical(key string) string {
	prefix := remote.CleanRoot(c.config.Prefix)
	if prefix == "" {
		return key
	}
	return strings.TrimPrefix(strings.TrimPrefix(key, prefix), delimiter)
}

func (c *Client) List(ctx context.Context, dir string) (*remote.Listing, error) {
	dir = remote.Clean(dir)
	prefix := c.key(dir)
	if prefix != "" {
		prefix += delimiter
	}

	paginator := s3.NewListObjectsV2Paginator(c.api, &s3.ListObjectsV2Input{
		Bucket:    aws.String(c.config.Bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String(delimiter),
	})

	listing := &remote.Listing{}
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, remote.NewError("list", dir, err)
		}

		for _, cp := range page.CommonPrefixes {
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), prefix), delimiter)
			if name != "" {
				listing.Dirs = append(listing.Dirs, name)
			}
		}

		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			name := strings.TrimPrefix(key, prefix)
			// folder markers
			if name == "" || strings.HasSuffix(name, delimiter) {
				continue
			}
			listing.Files = append(listing.Files, &remote.Object{
				Path:         c.logical(key),
				Name:         name,
				Hash:         etagHash(aws.ToString(obj.ETag)),
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
	}

	return listing, nil
}

// head returns nil and remote.ErrNotFound when the key does not exist.
func (c *Client) head(ctx context.Context, remotePath string) (*s3.HeadObjectOutput, error) {
	out, err := c.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.config.Bucket),
		Key:    aws.String(c.key(remotePath)),
	})
	if isNotFound(err) {
		return nil, remote.ErrNotFound
	}
	return out, err
}

func (c *Client) Create(ctx context.Context, localPath, remotePath string) (*remote.Object, error) {
	if !remote.ValidKey(remotePath) {
		return nil, remote.NewError("create", remotePath, remote.ErrInvalidPath)
	}
	obj, err := c.put(ctx, localPath, remote.Clean(remotePath))
	if err != nil {
		return nil, remote.NewError("create", remotePath, err)
	}
	return obj, nil
}

func (c *Client) put(ctx context.Context, localPath, remotePath string) (*remote.Object, error) {
	hash, err := c.hasher(localPath)
	if err != nil {
		return nil, err
	}
	sum, err := hex.DecodeString(hash)
	if err != nil {
		return nil, fmt.Errorf("decode md5 %q: %w", hash, err)
	}

	f, err := os.Open(localPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	_, err = c.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.config.Bucket),
		Key:           aws.String(c.key(remotePath)),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		ContentMD5:    aws.String(base64.StdEncoding.EncodeToString(sum)),
		ContentType:   aws.String(utils.DetectContentType(remotePath)),
		Metadata:      map[string]string{md5MetaKey: hash},
	})
	if err != nil {
		return nil, err
	}

	// PutObjectOutput has no LastModified
	return &remote.Object{
		Path:         remotePath,
		Name:         remote.Base(remotePath),
		Hash:         hash,
		Size:         info.Size(),
		LastModified: time.Now().UTC(),
	}, nil
}

func (c *Client) Delete(ctx context.Context, remotePath string) error {
	if !remote.ValidKey(remotePath) {
		return remote.NewError("delete", remotePath, remote.ErrInvalidPath)
	}
	remotePath = remote.Clean(remotePath)

	// DeleteObject succeeds on missing keys, so existence is checked first
	if _, err := c.head(ctx, remotePath); errors.Is(err, remote.ErrNotFound) {
		return remote.ErrNotFound
	} else if err != nil {
		return remote.NewError("delete", remotePath, err)
	}

	_, err := c.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.config.Bucket),
		Key:    aws.String(c.key(remotePath)),
	})
	if err != nil {
		return remote.NewError("delete", remotePath, err)
	}
	return nil
}

func (c *Client) ReplaceIfChanged(ctx context.Context, localPath, remotePath string) (bool, error) {
	if !remote.ValidKey(remotePath) {
		return false, remote.NewError("replace", remotePath, remote.ErrInvalidPath)
	}
	remotePath = remote.Clean(remotePath)

	localHash, err := c.hasher(localPath)
	if err != nil {
		return false, remote.NewError("replace", remotePath, err)
	}

	head, err := c.head(ctx, remotePath)
	if err != nil && !errors.Is(err, remote.ErrNotFound) {
		return false, remote.NewError("replace", remotePath, err)
	}
	if head != nil && strings.EqualFold(objectHash(head), localHash) {
		return false, nil
	}

	if _, err := c.put(ctx, localPath, remotePath); err != nil {
		return false, remote.NewError("replace", remotePath, err)
	}
	return true, nil
}

// objectHash prefers the md5 metadata written by put over the ETag.
func objectHash(head *s3.HeadObjectOutput) string {
	if h, ok := head.Metadata[md5MetaKey]; ok && h != "" {
		return h
	}
	return etagHash(aws.ToString(head.ETag))
}

// etagHash returns the ETag when it is a plain MD5. Multipart ETags carry a part
// count suffix and are not content hashes.
func etagHash(etag string) string {
	etag = strings.Trim(etag, `"`)
	if strings.Contains(etag, "-") {
		return ""
	}
	return etag
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var nf *types.NotFound
	var nsk *types.NoSuchKey
	if errors.As(err, &nf) || errors.As(err, &nsk) {
		return true
	}
	var re *awshttp.ResponseError
	return errors.As(err, &re) && re.HTTPStatusCode() == http.StatusNotFound
}

var _ remote.Remote = (*Client)(nil)
