package campaign

import (
	"context"
	"fmt"
	"sync/atomic"

	"wa-console/internal/api"
	"wa-console/internal/utils/media"
)

// Upload is an asynchronous media upload. A nil *Upload is a valid,
// never-completed upload.
type Upload struct {
	MediaType media.Type
	Path      string

	progress atomic.Int32
	done     chan struct{}
	url      string
	err      error
}

// Upload starts uploading path in the background. onProgress, when set,
// receives each new percentage. The upload stops when ctx is done.
func (f *Flow) Upload(ctx context.Context, mediaType media.Type, path string, onProgress func(int)) *Upload {
	u := &Upload{MediaType: mediaType, Path: path, done: make(chan struct{})}
	if mediaType == media.TypeNone {
		u.MediaType = media.FromExtension(path)
	}

	go func() {
		defer close(u.done)
		url, err := f.api.UploadMedia(ctx, path, func(p int) {
			u.progress.Store(int32(p))
			if onProgress != nil {
				onProgress(p)
			}
		})
		if err != nil {
			u.err = fmt.Errorf("failed to upload %s: %w", path, err)
			f.notify.Error(api.Message(err, "Failed to upload media"))
			return
		}
		u.url = url
		u.progress.Store(100)
		f.log.Infof("Uploaded %s", path)
	}()
	return u
}

// Progress returns the last reported percentage.
func (u *Upload) Progress() int {
	if u == nil {
		return 0
	}
	return int(u.progress.Load())
}

// Done is closed when the upload finished, successfully or not.
func (u *Upload) Done() <-chan struct{} {
	return u.done
}

// Wait blocks until the upload finished and returns its URL.
func (u *Upload) Wait(ctx context.Context) (string, error) {
	select {
	case <-u.done:
		return u.url, u.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Completed reports whether the upload finished successfully.
func (u *Upload) Completed() bool {
	if u == nil || u.done == nil {
		return false
	}
	select {
	case <-u.done:
		return u.err == nil && u.url != ""
	default:
		return false
	}
}

// URL returns the uploaded file's URL, or "" until completed.
func (u *Upload) URL() string {
	if !u.Completed() {
		return ""
	}
	return u.url
}

// Err returns the upload error once finished.
func (u *Upload) Err() error {
	if u == nil || u.done == nil {
		return nil
	}
	select {
	case <-u.done:
		return u.err
	default:
		return nil
	}
}
