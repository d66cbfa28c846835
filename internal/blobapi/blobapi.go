// Package blobapi holds the wire types of the blob HTTP API shared by the blob
// server and the http remote.
package blobapi

import (
	"fmt"
	"time"
)

const (
	PathHealth = "/healthz"
	PathList   = "/api/v1/blob/list"
	PathStat   = "/api/v1/blob/stat"
	PathUpload = "/api/v1/blob/upload"
	PathDelete = "/api/v1/blob/delete"

	// multipart form field holding the uploaded content
	FormFile = "file"
	// optional form field with the expected MD5 hex of the upload
	FormMD5 = "md5"
)

const (
	// Generic request/server errors
	CodeInvalidRequest = "E_INVALID_REQUEST" // bad or invalid request
	CodeRateLimited    = "E_RATE_LIMITED"    // rate limit exceeded
	CodeInternalError  = "E_INTERNAL_ERROR"  // internal server error
	CodeAccessDenied   = "E_ACCESS_DENIED"   // missing or wrong bearer token

	// Blob errors
	CodeBlobNotFound     = "E_BLOB_NOT_FOUND"               // the specified blob could not be found.
	CodeBlobInvalidKey   = "E_BLOB_INVALID_KEY"             // the key is empty, a directory or escapes the root.
	CodeBlobIntegrity    = "E_BLOB_INTEGRITY_CHECK_FAILED"  // the uploaded content does not match the md5 sent along.
	CodeBlobListFailed   = "E_BLOB_LIST_OPERATION_FAILED"   // a failure during the operation to list blobs.
	CodeBlobPutFailed    = "E_BLOB_PUT_OPERATION_FAILED"    // a failure during the operation to upload/put a blob.
	CodeBlobDeleteFailed = "E_BLOB_DELETE_OPERATION_FAILED" // a failure during the operation to delete a blob.
)

// APIError is the body of every non 2xx response.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"error"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("blob api error: code=%s, message=%s", e.Code, e.Message)
}

type BlobInfo struct {
	Key          string    `json:"key"`
	ETag         string    `json:"etag"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"lastModified"`
}

type ListRequest struct {
	Dir string `form:"dir"`
}

type ListResponse struct {
	Dir   string      `json:"dir"`
	Blobs []*BlobInfo `json:"blobs"`
	// Dirs holds the names of the immediate subdirectories
	Dirs []string `json:"dirs"`
}

type StatRequest struct {
	Key string `form:"key" binding:"required"`
}

type UploadRequest struct {
	Key string `form:"key" binding:"required"`
}

type UploadResponse = BlobInfo

type DeleteRequest struct {
	Keys []string `json:"keys" binding:"required,min=1"`
}

type BlobError struct {
	Key   string `json:"key"`
	Code  string `json:"code"`
	Error string `json:"error"`
}

type DeleteResponse struct {
	Deleted []string     `json:"deleted"`
	Errors  []*BlobError `json:"errors"`
}
