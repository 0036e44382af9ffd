package s3

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drivefs/drivefs/pkg/types"
)

func TestAttrOverlayRoundTrip(t *testing.T) {
	mtime := time.Unix(1700000000, 123456789)
	atime := mtime.Add(-time.Hour)
	st := &types.Stat{
		Mode:  types.ModeRegular | 0o640,
		UID:   1000,
		GID:   1001,
		Size:  42,
		Atime: atime,
		Mtime: mtime,
		Metadata: map[string][]byte{
			"user.color":  []byte("blue"),
			"user.binary": {0x00, 0xFF, 0x7F},
		},
	}

	meta := encodeAttrs(st)
	assert.Equal(t, "100640", meta[metaMode])
	assert.Equal(t, "1000", meta[metaUID])
	assert.Equal(t, "1001", meta[metaGID])
	assert.NotContains(t, meta, metaSymlink)

	info := &types.ObjectInfo{Key: "k", Size: 42, LastModified: time.Now(), Metadata: meta}
	got := decodeAttrs(info, types.ModeRegular|0o644)

	assert.Equal(t, st.Mode, got.Mode)
	assert.Equal(t, st.UID, got.UID)
	assert.Equal(t, st.GID, got.GID)
	assert.Equal(t, int64(42), got.Size)
	assert.True(t, got.Atime.Equal(atime), "atime survives with nanosecond precision")
	assert.True(t, got.Mtime.Equal(mtime))
	assert.Equal(t, []byte("blue"), got.Metadata["user.color"])
	assert.Equal(t, []byte{0x00, 0xFF, 0x7F}, got.Metadata["user.binary"], "binary values survive base64")
}

func TestDecodeAttrsDefaultsForForeignObject(t *testing.T) {
	modified := time.Unix(1600000000, 0)
	info := &types.ObjectInfo{
		Key:          "report.pdf",
		Size:         2048,
		LastModified: modified,
		Metadata:     map[string]string{"x-amz-meta-unrelated": "ignored"},
	}

	got := decodeAttrs(info, types.ModeRegular|0o644)
	assert.True(t, got.IsRegular())
	assert.Equal(t, uint32(0o644), got.Mode&^types.ModeTypeMask)
	assert.Zero(t, got.UID)
	assert.Equal(t, int64(2048), got.Size)
	assert.Equal(t, (int64(2048)+511)/512, got.Blocks)
	assert.True(t, got.Mtime.Equal(modified), "object LastModified stands in for mtime")
	assert.Equal(t, uint32(1), got.Nlink)
}

func TestSymlinkOverlayForcesTypeAndSize(t *testing.T) {
	st := &types.Stat{
		Mode:       types.ModeSymlink | 0o777,
		LinkTarget: "../shared/config",
	}
	meta := encodeAttrs(st)
	require.Contains(t, meta, metaSymlink)

	// Even with a corrupted mode field, the target's presence wins.
	meta[metaMode] = "100644"
	info := &types.ObjectInfo{Key: "ln", Size: 0, LastModified: time.Now(), Metadata: meta}
	got := decodeAttrs(info, types.ModeRegular|0o644)

	assert.True(t, got.IsSymlink())
	assert.Equal(t, "../shared/config", got.LinkTarget)
	assert.Equal(t, int64(len("../shared/config")), got.Size)
}

func TestDecodeAttrsIgnoresGarbage(t *testing.T) {
	info := &types.ObjectInfo{
		Key:          "odd",
		Size:         7,
		LastModified: time.Now(),
		Metadata: map[string]string{
			metaMode:   "not-octal",
			metaUID:    "NaN",
			metaMtime:  "yesterday",
			metaXattrs: "{broken json",
		},
	}

	got := decodeAttrs(info, types.ModeRegular|0o644)
	assert.True(t, got.IsRegular(), "unparseable mode falls back to the default")
	assert.Equal(t, uint32(0o644), got.Mode&^types.ModeTypeMask)
	assert.Zero(t, got.UID)
	assert.Empty(t, got.Metadata)
}

func TestOverlayOnlyFiltersForeignMetadata(t *testing.T) {
	meta := map[string]string{
		metaMode:       "100600",
		metaUID:        "10",
		"content-type": "text/plain",
		"x-custom":     "kept by other tools, not by us",
	}

	kept := overlayOnly(meta)
	assert.Equal(t, map[string]string{metaMode: "100600", metaUID: "10"}, kept)
}
