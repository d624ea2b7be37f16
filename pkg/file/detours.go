package file

import (
	"io"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/jingkaihe/layerhook/internal/errx"
	"github.com/jingkaihe/layerhook/pkg/api"
	"github.com/jingkaihe/layerhook/pkg/detour"
	"github.com/jingkaihe/layerhook/pkg/remote"
)

const writeFlags = unix.O_WRONLY | unix.O_RDWR | unix.O_CREAT | unix.O_TRUNC | unix.O_APPEND

// placeholderPath backs the local descriptor reserved for a remote file.
const placeholderPath = "/dev/null"

// remotePath decides whether path is served remotely.
func (h *Hooks) remotePath(path string, write bool) detour.Outcome[string] {
	if strings.IndexByte(path, 0) >= 0 {
		return detour.Bypassed[string](detour.CStrConversion)
	}
	if !filepath.IsAbs(path) {
		return detour.Bypassed[string](detour.RelativePath(path))
	}
	path = filepath.Clean(path)

	fs := h.cfg.Fs
	if fs.Mode == api.FsModeLocal {
		return detour.Bypassed[string](detour.IgnoredFile(path))
	}
	if _, ok := api.MatchAny(fs.Ignore, path); ok {
		return detour.Bypassed[string](detour.IgnoredFile(path))
	}
	if _, ok := api.MatchAny(fs.Local, path); ok {
		return detour.Bypassed[string](detour.OpenLocal)
	}
	if write {
		if fs.Mode == api.FsModeRead {
			return detour.Bypassed[string](detour.ReadOnly(path))
		}
		if _, ok := api.MatchAny(fs.ReadOnly, path); ok {
			return detour.Bypassed[string](detour.ReadOnly(path))
		}
	}
	return detour.Success(path)
}

// OpenDetour opens path remotely and hands back a local placeholder
// descriptor standing for it.
func (h *Hooks) OpenDetour(path string, flags int, mode uint32) detour.Outcome[int] {
	target := h.remotePath(path, flags&writeFlags != 0)
	resolved, ok := target.Get()
	if !ok {
		return detour.Residual[int](target)
	}

	ctx, cancel := h.requestContext()
	defer cancel()

	handle, err := h.fs.Open(ctx, resolved, flags, fileMode(mode))
	if err != nil {
		return detour.Failed[int](errx.Wrap(detour.ErrRemoteRequest, err))
	}

	// Re-entering Open from inside the handler goes straight to the original.
	fd, errno := h.Open(placeholderPath, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if errno != 0 {
		_ = handle.Close(ctx)
		return detour.Failed[int](errx.Wrap(detour.ErrLocalFdReserve, errno))
	}

	h.files.Insert(fd, &RemoteFile{Path: resolved, Flags: flags, Handle: handle})
	h.logger.Debug("remote file opened", "path", resolved, "fd", fd, "flags", flags)
	return detour.Success(fd)
}

func (h *Hooks) lookup(fd int) detour.Outcome[*RemoteFile] {
	f, ok := h.files.Get(fd)
	return detour.FromOptionOr(f, ok, detour.LocalFdNotFound(fd))
}

func (h *Hooks) ReadDetour(fd int, p []byte) detour.Outcome[int] {
	return detour.AndThen(h.lookup(fd), func(f *RemoteFile) detour.Outcome[int] {
		if len(p) == 0 {
			return detour.Success(0)
		}
		ctx, cancel := h.requestContext()
		defer cancel()

		f.mu.Lock()
		defer f.mu.Unlock()
		n, err := f.Handle.ReadAt(ctx, p, f.offset)
		if err != nil && err != io.EOF {
			return detour.Failed[int](errx.Wrap(detour.ErrRemoteRequest, err))
		}
		f.offset += int64(n)
		return detour.Success(n)
	})
}

func (h *Hooks) WriteDetour(fd int, p []byte) detour.Outcome[int] {
	file := h.lookup(fd)
	f, ok := file.Get()
	if !ok {
		return detour.Residual[int](file)
	}
	if len(p) == 0 {
		return detour.Bypassed[int](detour.EmptyBuffer)
	}

	ctx, cancel := h.requestContext()
	defer cancel()

	f.mu.Lock()
	defer f.mu.Unlock()
	n, err := f.Handle.WriteAt(ctx, p, f.offset)
	if err != nil {
		return detour.Failed[int](errx.Wrap(detour.ErrRemoteRequest, err))
	}
	if f.Flags&unix.O_APPEND != 0 {
		size, err := f.Handle.Size(ctx)
		if err != nil {
			return detour.Failed[int](errx.Wrap(detour.ErrRemoteRequest, err))
		}
		f.offset = size
	} else {
		f.offset += int64(n)
	}
	return detour.Success(n)
}

func (h *Hooks) LseekDetour(fd int, offset int64, whence int) detour.Outcome[int64] {
	return detour.AndThen(h.lookup(fd), func(f *RemoteFile) detour.Outcome[int64] {
		f.mu.Lock()
		defer f.mu.Unlock()

		var base int64
		switch whence {
		case io.SeekStart:
		case io.SeekCurrent:
			base = f.offset
		case io.SeekEnd:
			ctx, cancel := h.requestContext()
			defer cancel()
			size, err := f.Handle.Size(ctx)
			if err != nil {
				return detour.Failed[int64](errx.Wrap(detour.ErrRemoteRequest, err))
			}
			base = size
		default:
			return detour.Failed[int64](unix.EINVAL)
		}
		if base+offset < 0 {
			return detour.Failed[int64](unix.EINVAL)
		}
		f.offset = base + offset
		return detour.Success(f.offset)
	})
}

// CloseDetour releases the remote file, then closes the placeholder. Other
// descriptors bypass, leaving the close to whoever owns them.
func (h *Hooks) CloseDetour(fd int) detour.Outcome[int] {
	f, ok := h.files.Remove(fd)
	if !ok {
		return detour.Bypassed[int](detour.LocalFdNotFound(fd))
	}

	ctx, cancel := h.requestContext()
	defer cancel()
	if err := f.Handle.Close(ctx); err != nil {
		h.logger.Warn("remote close failed", "path", f.Path, "fd", fd, "error", err)
	}

	return h.closeLocal(fd)
}

func (h *Hooks) UnlinkDetour(path string) detour.Outcome[int] {
	return detour.AndThen(h.remotePath(path, true), func(resolved string) detour.Outcome[int] {
		if h.cfg.Fs.Mode != api.FsModeWrite {
			return detour.Bypassed[int](detour.ReadOnly(resolved))
		}
		if !remote.Supports(h.fs.ProtocolVersion(), remote.FeatureUnlink) {
			return detour.Bypassed[int](detour.NotImplemented)
		}
		ctx, cancel := h.requestContext()
		defer cancel()
		if err := h.fs.Unlink(ctx, resolved); err != nil {
			return detour.Failed[int](errx.Wrap(detour.ErrRemoteRequest, err))
		}
		return detour.Success(0)
	})
}

// StatxDetour stats a remote path, or a remote file by descriptor when
// path is empty.
func (h *Hooks) StatxDetour(dirfd int, path string, flags int, mask uint32, st *Statx) detour.Outcome[int] {
	if !remote.Supports(h.fs.ProtocolVersion(), remote.FeatureStatx) {
		return detour.Bypassed[int](detour.NotImplemented)
	}

	var target detour.Outcome[string]
	if path == "" {
		target = detour.Map(h.lookup(dirfd), func(f *RemoteFile) string { return f.Path })
	} else {
		target = h.remotePath(path, false)
	}

	return detour.AndThen(target, func(resolved string) detour.Outcome[int] {
		if st == nil {
			return detour.Failed[int](detour.ErrNullPointer)
		}
		ctx, cancel := h.requestContext()
		defer cancel()
		info, err := h.fs.Stat(ctx, resolved)
		if err != nil {
			return detour.Failed[int](errx.Wrap(detour.ErrRemoteRequest, err))
		}
		*st = statxFromInfo(info, mask)
		return detour.Success(0)
	})
}
