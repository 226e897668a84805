package domain

import (
	"context"
	"encoding/json"
)

// FeedConn is an established streaming connection.
type FeedConn interface {
	ReadMessage() ([]byte, error)
	WriteJSON(v interface{}) error
	Close() error
}

// FeedDialer opens streaming connections. Implementations wrap
// ErrAuthFailure when the server rejects the credential.
type FeedDialer interface {
	Dial(ctx context.Context, url, credential string) (FeedConn, error)
}

// SnapshotSource is the REST fallback for the bulk snapshot.
type SnapshotSource interface {
	FetchFundingRates(ctx context.Context) ([]json.RawMessage, error)
}

// FilterRepository persists the single FilterConfig blob.
// LoadFilterConfig returns (nil, nil) when nothing has been saved yet.
type FilterRepository interface {
	LoadFilterConfig(ctx context.Context) (*FilterConfig, error)
	SaveFilterConfig(ctx context.Context, cfg FilterConfig) error
}
