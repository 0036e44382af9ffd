package bridge

// statfsConstant fills every statfs field. Drives have no fixed capacity to
// report, and a value this large keeps clients from refusing writes because
// the volume looks full.
const statfsConstant = 1000000

// StatVFS is the canonical statfs result. Field names follow statvfs(3);
// transports copy them into their platform structure.
type StatVFS struct {
	Bsize   uint64
	Frsize  uint64
	Blocks  uint64
	Bfree   uint64
	Bavail  uint64
	Files   uint64
	Ffree   uint64
	Favail  uint64
	Fsid    uint64
	Flag    uint64
	Namemax uint64
}

// Statfs reports fixed permissive filesystem statistics. It cannot fail.
func (s *Session) Statfs(path string) *StatVFS {
	return &StatVFS{
		Bsize:   statfsConstant,
		Frsize:  statfsConstant,
		Blocks:  statfsConstant,
		Bfree:   statfsConstant,
		Bavail:  statfsConstant,
		Files:   statfsConstant,
		Ffree:   statfsConstant,
		Favail:  statfsConstant,
		Fsid:    statfsConstant,
		Flag:    statfsConstant,
		Namemax: statfsConstant,
	}
}
