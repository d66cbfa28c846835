package blobserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/openmined/treesync/internal/blobapi"
	"github.com/openmined/treesync/internal/remote"
	"github.com/openmined/treesync/internal/remote/dirremote"
)

// Store is the storage behind the blob routes.
type Store interface {
	List(ctx context.Context, dir string) (*remote.Listing, error)
	Stat(ctx context.Context, key string) (*remote.Object, error)
	Put(ctx context.Context, key string, r io.Reader, expectedMD5 string) (*remote.Object, error)
	Delete(ctx context.Context, key string) error
}

type BlobHandler struct {
	store Store
}

func NewBlobHandler(store Store) *BlobHandler {
	return &BlobHandler{store: store}
}

func toBlobInfo(obj *remote.Object) *blobapi.BlobInfo {
	return &blobapi.BlobInfo{
		Key:          obj.Path,
		ETag:         obj.Hash,
		Size:         obj.Size,
		LastModified: obj.LastModified.UTC(),
	}
}

func (h *BlobHandler) List(ctx *gin.Context) {
	var req blobapi.ListRequest
	if err := ctx.ShouldBindQuery(&req); err != nil {
		abortWithError(ctx, http.StatusBadRequest, blobapi.CodeInvalidRequest, fmt.Errorf("failed to bind query: %w", err))
		return
	}

	listing, err := h.store.List(ctx.Request.Context(), req.Dir)
	if err != nil {
		abortWithError(ctx, http.StatusInternalServerError, blobapi.CodeBlobListFailed, err)
		return
	}

	res := &blobapi.ListResponse{
		Dir:   remote.Clean(req.Dir),
		Blobs: make([]*blobapi.BlobInfo, 0, len(listing.Files)),
		Dirs:  listing.Dirs,
	}
	if res.Dirs == nil {
		res.Dirs = []string{}
	}
	for _, obj := range listing.Files {
		res.Blobs = append(res.Blobs, toBlobInfo(obj))
	}

	ctx.PureJSON(http.StatusOK, res)
}

func (h *BlobHandler) Stat(ctx *gin.Context) {
	var req blobapi.StatRequest
	if err := ctx.ShouldBindQuery(&req); err != nil {
		abortWithError(ctx, http.StatusBadRequest, blobapi.CodeInvalidRequest, fmt.Errorf("failed to bind query: %w", err))
		return
	}

	obj, err := h.store.Stat(ctx.Request.Context(), req.Key)
	switch {
	case errors.Is(err, remote.ErrNotFound):
		abortWithError(ctx, http.StatusNotFound, blobapi.CodeBlobNotFound, err)
		return
	case errors.Is(err, remote.ErrInvalidPath):
		abortWithError(ctx, http.StatusBadRequest, blobapi.CodeBlobInvalidKey, err)
		return
	case err != nil:
		abortWithError(ctx, http.StatusInternalServerError, blobapi.CodeInternalError, err)
		return
	}

	ctx.PureJSON(http.StatusOK, toBlobInfo(obj))
}

func (h *BlobHandler) Upload(ctx *gin.Context) {
	var req blobapi.UploadRequest
	if err := ctx.ShouldBindQuery(&req); err != nil {
		abortWithError(ctx, http.StatusBadRequest, blobapi.CodeInvalidRequest, fmt.Errorf("failed to bind query: %w", err))
		return
	}

	if !remote.ValidKey(req.Key) {
		abortWithError(ctx, http.StatusBadRequest, blobapi.CodeBlobInvalidKey, fmt.Errorf("invalid key: %q", req.Key))
		return
	}

	file, err := ctx.FormFile(blobapi.FormFile)
	if err != nil {
		abortWithError(ctx, http.StatusBadRequest, blobapi.CodeInvalidRequest, fmt.Errorf("invalid file: %w", err))
		return
	}

	fd, err := file.Open()
	if err != nil {
		abortWithError(ctx, http.StatusBadRequest, blobapi.CodeInvalidRequest, fmt.Errorf("invalid file: %w", err))
		return
	}
	defer fd.Close()

	obj, err := h.store.Put(ctx.Request.Context(), req.Key, fd, ctx.PostForm(blobapi.FormMD5))
	switch {
	case errors.Is(err, dirremote.ErrIntegrity):
		abortWithError(ctx, http.StatusBadRequest, blobapi.CodeBlobIntegrity, err)
		return
	case errors.Is(err, remote.ErrInvalidPath):
		abortWithError(ctx, http.StatusBadRequest, blobapi.CodeBlobInvalidKey, err)
		return
	case err != nil:
		abortWithError(ctx, http.StatusInternalServerError, blobapi.CodeBlobPutFailed, err)
		return
	}

	ctx.PureJSON(http.StatusOK, toBlobInfo(obj))
}

func (h *BlobHandler) Delete(ctx *gin.Context) {
	var req blobapi.DeleteRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		abortWithError(ctx, http.StatusBadRequest, blobapi.CodeInvalidRequest, fmt.Errorf("failed to bind json: %w", err))
		return
	}

	deleted := make([]string, 0, len(req.Keys))
	blobErrors := make([]*blobapi.BlobError, 0)
	for _, key := range req.Keys {
		err := h.store.Delete(ctx.Request.Context(), key)
		if err == nil {
			deleted = append(deleted, key)
			continue
		}

		code := blobapi.CodeBlobDeleteFailed
		switch {
		case errors.Is(err, remote.ErrNotFound):
			code = blobapi.CodeBlobNotFound
		case errors.Is(err, remote.ErrInvalidPath):
			code = blobapi.CodeBlobInvalidKey
		}
		ctx.Error(fmt.Errorf("failed to delete %q: %w", key, err))
		blobErrors = append(blobErrors, &blobapi.BlobError{Key: key, Code: code, Error: err.Error()})
	}

	status := http.StatusOK
	if len(deleted) == 0 && len(blobErrors) > 0 {
		status = http.StatusBadRequest
	} else if len(deleted) > 0 && len(blobErrors) > 0 {
		status = http.StatusMultiStatus
	}

	ctx.PureJSON(status, &blobapi.DeleteResponse{
		Deleted: deleted,
		Errors:  blobErrors,
	})
}

var _ Store = (*dirremote.Store)(nil)
