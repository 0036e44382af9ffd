package s3

import (
	"encoding/base64"
	"encoding/json"
	"strconv"
	"time"

	"github.com/drivefs/drivefs/pkg/types"
)

// POSIX attributes ride on objects as S3 user metadata. The SDK lowercases
// the keys on the way back, so every key here is lowercase to begin with.
// Extended attribute values are base64-wrapped because user metadata must
// be ASCII.
const (
	metaMode    = "drivefs-mode"
	metaUID     = "drivefs-uid"
	metaGID     = "drivefs-gid"
	metaAtime   = "drivefs-atime"
	metaMtime   = "drivefs-mtime"
	metaSymlink = "drivefs-symlink"
	metaXattrs  = "drivefs-xattrs"
)

// encodeAttrs renders a stat record into S3 user metadata.
func encodeAttrs(st *types.Stat) map[string]string {
	meta := map[string]string{
		metaMode:  strconv.FormatUint(uint64(st.Mode), 8),
		metaUID:   strconv.FormatUint(uint64(st.UID), 10),
		metaGID:   strconv.FormatUint(uint64(st.GID), 10),
		metaAtime: strconv.FormatInt(st.Atime.UnixNano(), 10),
		metaMtime: strconv.FormatInt(st.Mtime.UnixNano(), 10),
	}
	if st.LinkTarget != "" {
		meta[metaSymlink] = st.LinkTarget
	}
	if len(st.Metadata) > 0 {
		wrapped := make(map[string]string, len(st.Metadata))
		for name, value := range st.Metadata {
			wrapped[name] = base64.StdEncoding.EncodeToString(value)
		}
		if encoded, err := json.Marshal(wrapped); err == nil {
			meta[metaXattrs] = string(encoded)
		}
	}
	return meta
}

// decodeAttrs builds a stat record from object info plus its metadata
// overlay. Objects written outside DriveFS carry no overlay and fall back
// to the object's own size and modification time with defaultMode.
func decodeAttrs(info *types.ObjectInfo, defaultMode uint32) *types.Stat {
	st := &types.Stat{
		Size:   info.Size,
		Blocks: (info.Size + 511) / 512,
		Mode:   defaultMode,
		Nlink:  1,
		Atime:  info.LastModified,
		Mtime:  info.LastModified,
		Ctime:  info.LastModified,
	}

	meta := info.Metadata
	if v, ok := meta[metaMode]; ok {
		if m, err := strconv.ParseUint(v, 8, 32); err == nil {
			st.Mode = uint32(m)
		}
	}
	if v, ok := meta[metaUID]; ok {
		if u, err := strconv.ParseUint(v, 10, 32); err == nil {
			st.UID = uint32(u)
		}
	}
	if v, ok := meta[metaGID]; ok {
		if g, err := strconv.ParseUint(v, 10, 32); err == nil {
			st.GID = uint32(g)
		}
	}
	if v, ok := meta[metaAtime]; ok {
		if ns, err := strconv.ParseInt(v, 10, 64); err == nil {
			st.Atime = time.Unix(0, ns)
		}
	}
	if v, ok := meta[metaMtime]; ok {
		if ns, err := strconv.ParseInt(v, 10, 64); err == nil {
			st.Mtime = time.Unix(0, ns)
		}
	}
	if target, ok := meta[metaSymlink]; ok {
		st.LinkTarget = target
		st.Mode = st.Mode&^types.ModeTypeMask | types.ModeSymlink
		st.Size = int64(len(target))
		st.Blocks = (st.Size + 511) / 512
	}
	if v, ok := meta[metaXattrs]; ok {
		var wrapped map[string]string
		if err := json.Unmarshal([]byte(v), &wrapped); err == nil {
			st.Metadata = make(map[string][]byte, len(wrapped))
			for name, encoded := range wrapped {
				if value, err := base64.StdEncoding.DecodeString(encoded); err == nil {
					st.Metadata[name] = value
				}
			}
		}
	}
	return st
}

// overlayOnly filters object metadata down to the DriveFS attribute keys,
// dropping transporter bookkeeping and anything written by other tools.
func overlayOnly(meta map[string]string) map[string]string {
	out := make(map[string]string, len(meta))
	for _, k := range []string{metaMode, metaUID, metaGID, metaAtime, metaMtime, metaSymlink, metaXattrs} {
		if v, ok := meta[k]; ok {
			out[k] = v
		}
	}
	return out
}

// cloneStat deep-copies a stat record, including the metadata map.
func cloneStat(st *types.Stat) *types.Stat {
	if st == nil {
		return nil
	}
	out := *st
	if st.Metadata != nil {
		out.Metadata = make(map[string][]byte, len(st.Metadata))
		for name, value := range st.Metadata {
			copied := make([]byte, len(value))
			copy(copied, value)
			out.Metadata[name] = copied
		}
	}
	return &out
}
