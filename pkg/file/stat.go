package file

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/jingkaihe/layerhook/pkg/remote"
)

// Statx mask bits, matching the kernel's STATX_* values.
const (
	StatxType  uint32 = 0x1
	StatxMode  uint32 = 0x2
	StatxSize  uint32 = 0x200
	StatxBasic uint32 = 0x7ff
)

// Statx is the portion of struct statx the hook fills in. Mask reports
// which fields are valid.
type Statx struct {
	Mask uint32
	Mode uint32
	Size uint64
}

func statxFromInfo(info remote.FileInfo, mask uint32) Statx {
	st := Statx{Mask: (StatxType | StatxMode | StatxSize) & (mask | StatxType)}
	st.Mode = uint32(info.Mode.Perm())
	if info.IsDir || info.Mode.IsDir() {
		st.Mode |= unix.S_IFDIR
	} else {
		st.Mode |= unix.S_IFREG
	}
	if st.Mask&StatxSize != 0 {
		st.Size = uint64(info.Size)
	}
	return st
}

// fileMode converts a native permission argument.
func fileMode(mode uint32) os.FileMode {
	return os.FileMode(mode & 0o7777).Perm()
}
