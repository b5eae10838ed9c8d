// Package catalog exposes track metadata of the current seek index
package catalog

import (
	ferrors "github.com/mantonx/framecache/internal/modules/framemodule/errors"
	"github.com/mantonx/framecache/internal/modules/framemodule/types"
)

// Catalog is a read-only view over one seek index
type Catalog struct {
	index *types.SeekIndex
}

// New creates a catalog for idx. A nil index yields a catalog that reports
// NotIndexed for every call.
func New(idx *types.SeekIndex) *Catalog {
	return &Catalog{index: idx}
}

// Index returns the underlying seek index
func (c *Catalog) Index() *types.SeekIndex {
	return c.index
}

// ListTracks returns every track in container order
func (c *Catalog) ListTracks() ([]types.TrackDescriptor, error) {
	if c.index == nil {
		return nil, ferrors.NotIndexed("list_tracks")
	}
	tracks := make([]types.TrackDescriptor, len(c.index.Tracks))
	for i, t := range c.index.Tracks {
		tracks[i] = t.Descriptor
	}
	return tracks, nil
}

// Track returns the table of one track after a range check
func (c *Catalog) Track(op string, track int) (*types.TrackIndex, error) {
	if c.index == nil {
		return nil, ferrors.NotIndexed(op)
	}
	if track < 0 || track >= len(c.index.Tracks) {
		return nil, ferrors.TrackOutOfRange(op, track, len(c.index.Tracks))
	}
	return &c.index.Tracks[track], nil
}

// VideoTrack is Track restricted to video tracks
func (c *Catalog) VideoTrack(op string, track int) (*types.TrackIndex, error) {
	t, err := c.Track(op, track)
	if err != nil {
		return nil, err
	}
	if !t.Descriptor.IsVideo() {
		return nil, ferrors.NotVideoTrack(op, track)
	}
	return t, nil
}
