package index

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mantonx/framecache/internal/modules/framemodule/types"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// cacheFormatVersion is bumped whenever the cache schema changes
const cacheFormatVersion = 1

// ErrIncompatibleCache indicates a cache file that cannot be read by this
// version
var ErrIncompatibleCache = errors.New("incompatible index cache")

type cacheMeta struct {
	ID            uint `gorm:"primaryKey"`
	FormatVersion int
	SourceFile    string
	SourceSize    int64
	SourceDigest  string
	CodecHint     string
	CreatedAt     time.Time
}

func (cacheMeta) TableName() string { return "index_meta" }

type cacheTrack struct {
	Number      int `gorm:"primaryKey;autoIncrement:false"`
	Type        string
	FrameCount  int
	TimeBaseNum int64
	TimeBaseDen int64
	Codec       string
	Width       int
	Height      int
	PixelFormat string
}

func (cacheTrack) TableName() string { return "index_tracks" }

type cacheFrame struct {
	Track         int `gorm:"primaryKey;autoIncrement:false"`
	Number        int `gorm:"primaryKey;autoIncrement:false"`
	PTS           int64
	FilePos       int64
	KeyFrame      bool
	RepeatPicture int
}

func (cacheFrame) TableName() string { return "index_frames" }

func openCacheDB(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open index cache: %w", err)
	}
	return db, nil
}

func closeCacheDB(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
}

// writeCache persists idx to path. The database is built next to the target
// and renamed over it so readers never observe a half-written cache.
func writeCache(path string, idx *types.SeekIndex) error {
	tmp := path + ".tmp"
	os.Remove(tmp)

	db, err := openCacheDB(tmp)
	if err != nil {
		return err
	}

	err = func() error {
		defer closeCacheDB(db)

		if err := db.AutoMigrate(&cacheMeta{}, &cacheTrack{}, &cacheFrame{}); err != nil {
			return fmt.Errorf("failed to create index cache schema: %w", err)
		}

		return db.Transaction(func(tx *gorm.DB) error {
			meta := cacheMeta{
				FormatVersion: cacheFormatVersion,
				SourceFile:    idx.File,
				SourceSize:    idx.Identity.Size,
				SourceDigest:  idx.Identity.Digest,
				CodecHint:     idx.CodecHint,
			}
			if err := tx.Create(&meta).Error; err != nil {
				return fmt.Errorf("failed to write index meta: %w", err)
			}

			for _, track := range idx.Tracks {
				d := track.Descriptor
				row := cacheTrack{
					Number:      d.TrackNumber,
					Type:        string(d.Type),
					FrameCount:  d.FrameCount,
					TimeBaseNum: d.TimeBaseNum,
					TimeBaseDen: d.TimeBaseDen,
					Codec:       d.Codec,
					Width:       d.Encoded.Width,
					Height:      d.Encoded.Height,
					PixelFormat: string(d.PixelFormat),
				}
				if err := tx.Create(&row).Error; err != nil {
					return fmt.Errorf("failed to write track %d: %w", d.TrackNumber, err)
				}

				if len(track.Frames) == 0 {
					continue
				}
				frames := make([]cacheFrame, len(track.Frames))
				for n, e := range track.Frames {
					frames[n] = cacheFrame{
						Track:         d.TrackNumber,
						Number:        n,
						PTS:           e.PTS,
						FilePos:       e.FilePos,
						KeyFrame:      e.KeyFrame,
						RepeatPicture: e.RepeatPicture,
					}
				}
				if err := tx.CreateInBatches(frames, 500).Error; err != nil {
					return fmt.Errorf("failed to write frames of track %d: %w", d.TrackNumber, err)
				}
			}
			return nil
		})
	}()
	if err != nil {
		os.Remove(tmp)
		return err
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to move index cache into place: %w", err)
	}
	return nil
}

// readCache loads a persisted index. The identity is filled in from the cache
// and must still be checked against the source file by the caller.
func readCache(path string) (*types.SeekIndex, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}

	db, err := openCacheDB(path)
	if err != nil {
		return nil, err
	}
	defer closeCacheDB(db)

	migrator := db.Migrator()
	for _, table := range []interface{}{&cacheMeta{}, &cacheTrack{}, &cacheFrame{}} {
		if !migrator.HasTable(table) {
			return nil, fmt.Errorf("%w: missing tables", ErrIncompatibleCache)
		}
	}

	var meta cacheMeta
	if err := db.First(&meta).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIncompatibleCache, err)
	}
	if meta.FormatVersion != cacheFormatVersion {
		return nil, fmt.Errorf("%w: format version %d, want %d", ErrIncompatibleCache, meta.FormatVersion, cacheFormatVersion)
	}

	var tracks []cacheTrack
	if err := db.Order("number").Find(&tracks).Error; err != nil {
		return nil, fmt.Errorf("failed to read tracks: %w", err)
	}

	idx := &types.SeekIndex{
		File:      meta.SourceFile,
		Identity:  types.FileIdentity{Size: meta.SourceSize, Digest: meta.SourceDigest},
		CodecHint: meta.CodecHint,
		Tracks:    make([]types.TrackIndex, len(tracks)),
	}
	for i, t := range tracks {
		if t.Number != i {
			return nil, fmt.Errorf("%w: track numbering gap at %d", ErrIncompatibleCache, i)
		}
		idx.Tracks[i] = types.TrackIndex{
			Descriptor: types.TrackDescriptor{
				TrackNumber: t.Number,
				Type:        types.TrackType(t.Type),
				FrameCount:  t.FrameCount,
				TimeBaseNum: t.TimeBaseNum,
				TimeBaseDen: t.TimeBaseDen,
				Codec:       t.Codec,
				Encoded:     types.Resolution{Width: t.Width, Height: t.Height},
				PixelFormat: types.PixelFormat(t.PixelFormat),
			},
			Frames: make([]types.IndexEntry, 0, t.FrameCount),
		}
	}

	var frames []cacheFrame
	if err := db.Order("track, number").Find(&frames).Error; err != nil {
		return nil, fmt.Errorf("failed to read frames: %w", err)
	}
	for _, f := range frames {
		if f.Track < 0 || f.Track >= len(idx.Tracks) {
			return nil, fmt.Errorf("%w: frame references unknown track %d", ErrIncompatibleCache, f.Track)
		}
		idx.Tracks[f.Track].Frames = append(idx.Tracks[f.Track].Frames, types.IndexEntry{
			PTS:           f.PTS,
			FilePos:       f.FilePos,
			KeyFrame:      f.KeyFrame,
			RepeatPicture: f.RepeatPicture,
		})
	}
	for _, t := range idx.Tracks {
		if len(t.Frames) != t.Descriptor.FrameCount {
			return nil, fmt.Errorf("%w: track %d has %d frames, header says %d",
				ErrIncompatibleCache, t.Descriptor.TrackNumber, len(t.Frames), t.Descriptor.FrameCount)
		}
	}

	return idx, nil
}
