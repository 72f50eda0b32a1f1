package repository

import (
	"context"
	"net/url"
)

// ListFiles returns the files of the dataset's draft version.
func (c *Client) ListFiles(ctx context.Context) ([]FileEntry, error) {
	return getData[[]FileEntry](ctx, c, "/versions/:draft/files", nil)
}

// Locks returns the lock types currently held on the dataset.
func (c *Client) Locks(ctx context.Context) ([]string, error) {
	locks, err := getData[[]Lock](ctx, c, "/locks", nil)
	if err != nil {
		return nil, err
	}
	types := make([]string, 0, len(locks))
	for _, l := range locks {
		types = append(types, l.LockType)
	}
	return types, nil
}

// StorageDriver returns the dataset's storage driver, used to decide whether
// direct uploads are possible.
func (c *Client) StorageDriver(ctx context.Context) (*StorageDriver, error) {
	d, err := getData[StorageDriver](ctx, c, "/storageDriver", nil)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// RequestUploadURLs reserves storage for a direct upload of size bytes.
func (c *Client) RequestUploadURLs(ctx context.Context, size int64) (*UploadTicket, error) {
	t, err := getData[UploadTicket](ctx, c, "/uploadurls", url.Values{"size": {itoa(size)}})
	if err != nil {
		return nil, err
	}
	return &t, nil
}
