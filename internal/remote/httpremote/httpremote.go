// Package httpremote talks to the blob HTTP API served by package blobserver.
package httpremote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/imroc/req/v3"
	"github.com/openmined/treesync/internal/blobapi"
	"github.com/openmined/treesync/internal/remote"
	"github.com/openmined/treesync/internal/version"
)

var ErrNoServerURL = errors.New("httpremote: server url missing")

const (
	defaultRetryCount    = 3
	defaultRetryInterval = time.Second
	defaultTimeout       = 5 * time.Minute
)

type Config struct {
	ServerURL string
	// Token is sent as a bearer token when set
	Token string
}

func (c *Config) Validate() error {
	if c.ServerURL == "" {
		return ErrNoServerURL
	}
	if !strings.HasPrefix(c.ServerURL, "http://") && !strings.HasPrefix(c.ServerURL, "https://") {
		return fmt.Errorf("httpremote: server url must be http(s): %q", c.ServerURL)
	}
	return nil
}

type Client struct {
	client *req.Client
	hasher remote.Hasher
}

type Option func(*options)

type options struct {
	hasher        remote.Hasher
	retryCount    int
	retryInterval time.Duration
	timeout       time.Duration
}

// WithHasher sets the hasher used for local files, typically a hash cache.
func WithHasher(h remote.Hasher) Option {
	return func(o *options) {
		if h != nil {
			o.hasher = h
		}
	}
}

// WithRetry sets how often and how fast failed requests are retried.
func WithRetry(count int, interval time.Duration) Option {
	return func(o *options) {
		o.retryCount = count
		o.retryInterval = interval
	}
}

func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

func New(cfg *Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &options{
		hasher:        remote.DefaultHasher,
		retryCount:    defaultRetryCount,
		retryInterval: defaultRetryInterval,
		timeout:       defaultTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}

	client := req.C().
		SetBaseURL(strings.TrimSuffix(cfg.ServerURL, "/")).
		SetTimeout(o.timeout).
		SetUserAgent(version.UserAgent()).
		SetCommonRetryCount(o.retryCount).
		SetCommonRetryFixedInterval(o.retryInterval).
		SetCommonRetryCondition(shouldRetry).
		SetCommonErrorResult(&blobapi.APIError{}).
		SetJsonMarshal(jsonMarshal).
		SetJsonUnmarshal(jsonUnmarshal)

	if cfg.Token != "" {
		client.SetCommonBearerAuthToken(cfg.Token)
	}

	return &Client{client: client, hasher: o.hasher}, nil
}

func shouldRetry(resp *req.Response, err error) bool {
	if err != nil {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}
	return resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError
}

func (c *Client) List(ctx context.Context, dir string) (*remote.Listing, error) {
	dir = remote.Clean(dir)

	var res blobapi.ListResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("dir", dir).
		SetSuccessResult(&res).
		Get(blobapi.PathList)
	if err := handleAPIError(resp, err); err != nil {
		return nil, remote.NewError("list", dir, err)
	}

	listing := &remote.Listing{Dirs: res.Dirs}
	for _, b := range res.Blobs {
		listing.Files = append(listing.Files, toObject(b))
	}
	return listing, nil
}

// Stat returns the remote object at remotePath or an error wrapping remote.ErrNotFound.
func (c *Client) Stat(ctx context.Context, remotePath string) (*remote.Object, error) {
	var res blobapi.BlobInfo
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("key", remotePath).
		SetSuccessResult(&res).
		Get(blobapi.PathStat)
	if err := handleAPIError(resp, err); err != nil {
		return nil, remote.NewError("stat", remotePath, err)
	}
	return toObject(&res), nil
}

func (c *Client) Create(ctx context.Context, localPath, remotePath string) (*remote.Object, error) {
	if !remote.ValidKey(remotePath) {
		return nil, remote.NewError("create", remotePath, remote.ErrInvalidPath)
	}
	obj, err := c.upload(ctx, localPath, remote.Clean(remotePath))
	if err != nil {
		return nil, remote.NewError("create", remotePath, err)
	}
	return obj, nil
}

func (c *Client) upload(ctx context.Context, localPath, remotePath string) (*remote.Object, error) {
	hash, err := c.hasher(localPath)
	if err != nil {
		return nil, err
	}

	var res blobapi.UploadResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("key", remotePath).
		// the body is a file stream, retrying is left to the next run
		SetRetryCount(0).
		SetFile(blobapi.FormFile, localPath).
		SetFormData(map[string]string{blobapi.FormMD5: hash}).
		SetSuccessResult(&res).
		Put(blobapi.PathUpload)
	if err := handleAPIError(resp, err); err != nil {
		return nil, err
	}
	return toObject(&res), nil
}

func (c *Client) Delete(ctx context.Context, remotePath string) error {
	if !remote.ValidKey(remotePath) {
		return remote.NewError("delete", remotePath, remote.ErrInvalidPath)
	}
	remotePath = remote.Clean(remotePath)

	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(&blobapi.DeleteRequest{Keys: []string{remotePath}}).
		Post(blobapi.PathDelete)
	if err != nil {
		return remote.NewError("delete", remotePath, fmt.Errorf("http request error: %w", err))
	}

	// partial failures come back as a DeleteResponse with a non 2xx status
	var res blobapi.DeleteResponse
	if uerr := resp.Unmarshal(&res); uerr != nil || (len(res.Deleted) == 0 && len(res.Errors) == 0) {
		if err := handleAPIError(resp, nil); err != nil {
			return remote.NewError("delete", remotePath, err)
		}
		return remote.NewError("delete", remotePath, fmt.Errorf("unexpected response: %s", resp.String()))
	}

	for _, e := range res.Errors {
		if e.Key != remotePath {
			continue
		}
		if e.Code == blobapi.CodeBlobNotFound {
			return remote.ErrNotFound
		}
		return remote.NewError("delete", remotePath, &blobapi.APIError{Code: e.Code, Message: e.Error})
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

	existing, err := c.Stat(ctx, remotePath)
	if err != nil && !errors.Is(err, remote.ErrNotFound) {
		return false, err
	}
	if existing != nil && strings.EqualFold(existing.Hash, localHash) {
		return false, nil
	}

	if _, err := c.upload(ctx, localPath, remotePath); err != nil {
		return false, remote.NewError("replace", remotePath, err)
	}
	return true, nil
}

func toObject(b *blobapi.BlobInfo) *remote.Object {
	return &remote.Object{
		Path:         b.Key,
		Name:         remote.Base(b.Key),
		Hash:         b.ETag,
		Size:         b.Size,
		LastModified: b.LastModified,
	}
}

// handleAPIError turns a transport error or an error response into an error.
// E_BLOB_NOT_FOUND responses wrap remote.ErrNotFound.
func handleAPIError(resp *req.Response, requestErr error) error {
	if requestErr != nil {
		return fmt.Errorf("http request error: %w", requestErr)
	}

	if resp.IsErrorState() {
		apiErr, ok := resp.ErrorResult().(*blobapi.APIError)
		if !ok || apiErr.Code == "" {
			return fmt.Errorf("http %d: %s", resp.StatusCode, resp.String())
		}
		if apiErr.Code == blobapi.CodeBlobNotFound {
			return fmt.Errorf("%w: %w", remote.ErrNotFound, apiErr)
		}
		return apiErr
	}

	return nil
}

var _ remote.Remote = (*Client)(nil)
