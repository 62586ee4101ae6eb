// Package fusefs implements the MagicFolder overlay driver on cgofuse.
//
// The driver presents a flat backing directory through a mount point.
// Files created at the root vanish from listings until the external
// classifier assigns them a category, at which point they reappear under
// a synthetic per-category directory. Bytes are always served straight
// from the backing store; only the namespace is virtual.
package fusefs

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/winfsp/cgofuse/fuse"
	"golang.org/x/sys/unix"

	"github.com/magicfolder/magicfolder/internal/brain"
	"github.com/magicfolder/magicfolder/internal/index"
	"github.com/magicfolder/magicfolder/internal/logging"
	"github.com/magicfolder/magicfolder/internal/metrics"
	"github.com/magicfolder/magicfolder/internal/pending"
	"github.com/magicfolder/magicfolder/internal/worker"
)

const invalidFh = ^uint64(0)

// Config holds driver configuration.
type Config struct {
	BackingDir    string
	BrainEndpoint string
	BrainTimeout  time.Duration
	Debounce      time.Duration
	Rescan        bool
}

// FS is the overlay filesystem.
type FS struct {
	cfg Config

	idx    *index.Index
	queue  *pending.Queue
	brain  *brain.Client
	worker *worker.Worker

	host       *fuse.FileSystemHost
	dialCancel context.CancelFunc

	mu      sync.Mutex
	handles map[uint64]*openHandle
	nextFh  atomic.Uint64
}

// openHandle is one open backing-store file descriptor.
type openHandle struct {
	name string // root-file basename, "" otherwise
	file *os.File
}

var _ fuse.FileSystemInterface = (*FS)(nil)

// New creates the driver. The backing directory must already exist.
func New(cfg Config) *FS {
	idx := index.New()
	queue := pending.New()
	b := brain.New(cfg.BrainEndpoint, cfg.BrainTimeout)
	return &FS{
		cfg:     cfg,
		idx:     idx,
		queue:   queue,
		brain:   b,
		worker:  worker.New(idx, queue, b, cfg.BackingDir, cfg.Debounce),
		handles: make(map[uint64]*openHandle),
	}
}

// Mount attaches the filesystem and blocks until unmount or ctx cancel.
func (f *FS) Mount(ctx context.Context, mountPoint string) error {
	if err := os.MkdirAll(mountPoint, 0755); err != nil {
		return fmt.Errorf("create mount point: %w", err)
	}

	f.host = fuse.NewFileSystemHost(f)
	f.host.SetCapReaddirPlus(false)

	// Attribute caching stays off so index changes become visible to
	// readers promptly.
	opts := []string{
		"-o", "fsname=magicfolder",
		"-o", "attr_timeout=0",
		"-o", "entry_timeout=0",
		"-o", "negative_timeout=0",
	}

	logging.Info("mounting filesystem",
		logging.String("mount", mountPoint),
		logging.String("backing", f.cfg.BackingDir))

	errCh := make(chan error, 1)
	go func() {
		if ok := f.host.Mount(mountPoint, opts); !ok {
			errCh <- fmt.Errorf("mount %s failed", mountPoint)
		} else {
			errCh <- nil
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		f.host.Unmount()
		<-errCh
		return ctx.Err()
	}
}

// Unmount detaches the filesystem.
func (f *FS) Unmount() {
	if f.host != nil {
		f.host.Unmount()
	}
}

// --- handle table ---

func (f *FS) allocFh(h *openHandle) uint64 {
	fh := f.nextFh.Add(1)
	f.mu.Lock()
	f.handles[fh] = h
	f.mu.Unlock()
	return fh
}

func (f *FS) getFh(fh uint64) *openHandle {
	if fh == invalidFh {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handles[fh]
}

func (f *FS) freeFh(fh uint64) *openHandle {
	if fh == invalidFh {
		return nil
	}
	f.mu.Lock()
	h := f.handles[fh]
	delete(f.handles, fh)
	f.mu.Unlock()
	return h
}

// --- attribute helpers ---

func copyStat(st *unix.Stat_t, out *fuse.Stat_t) {
	out.Dev = st.Dev
	out.Ino = st.Ino
	out.Mode = st.Mode
	out.Nlink = uint32(st.Nlink)
	out.Uid = st.Uid
	out.Gid = st.Gid
	out.Rdev = st.Rdev
	out.Size = st.Size
	out.Blksize = st.Blksize
	out.Blocks = st.Blocks
	out.Atim = fuse.Timespec{Sec: st.Atim.Sec, Nsec: st.Atim.Nsec}
	out.Mtim = fuse.Timespec{Sec: st.Mtim.Sec, Nsec: st.Mtim.Nsec}
	out.Ctim = fuse.Timespec{Sec: st.Ctim.Sec, Nsec: st.Ctim.Nsec}
}

// synthDirStat fills attributes for a synthetic directory. The inode is
// a stable hash of the name so repeated stats agree.
func synthDirStat(name string, out *fuse.Stat_t) {
	now := fuse.Now()
	out.Mode = fuse.S_IFDIR | 0755
	out.Nlink = 2
	out.Uid = uint32(os.Getuid())
	out.Gid = uint32(os.Getgid())
	out.Size = 4096
	out.Blocks = 8
	out.Ino = categoryInode(name)
	out.Atim = now
	out.Mtim = now
	out.Ctim = now
}

func categoryInode(name string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(name))
	return h.Sum64()
}

// errc converts a Go error to a negated FUSE errno.
func errc(err error) int {
	if err == nil {
		return 0
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return -int(errno)
	}
	if os.IsNotExist(err) {
		return -fuse.ENOENT
	}
	if os.IsPermission(err) {
		return -fuse.EACCES
	}
	return -fuse.EIO
}

// --- lifecycle hooks ---

// Init dials the classifier, starts the worker, and optionally rescans
// the backing store so a restarted driver reconverges.
func (f *FS) Init() {
	ctx, cancel := context.WithCancel(context.Background())
	f.dialCancel = cancel
	go func() {
		if err := f.brain.DialWithRetry(ctx); err != nil && ctx.Err() == nil {
			logging.Error("classifier dial abandoned", logging.Err(err))
		}
	}()

	f.worker.Start()

	if f.cfg.Rescan {
		f.rescan()
	}

	logging.Info("filesystem initialized",
		logging.String("backing", f.cfg.BackingDir),
		logging.String("brain", f.cfg.BrainEndpoint))
}

// Destroy stops the worker and tears down the classifier socket.
func (f *FS) Destroy() {
	if f.dialCancel != nil {
		f.dialCancel()
	}
	f.worker.Stop()
	f.brain.Close()
	logging.Info("filesystem unmounted")
}

// rescan enqueues every non-ignored regular file already present in the
// backing store. Categorization state does not persist, so this is how a
// restart gets the flat bag reclassified.
func (f *FS) rescan() {
	entries, err := os.ReadDir(f.cfg.BackingDir)
	if err != nil {
		logging.Error("backing store rescan failed", logging.Err(err))
		return
	}

	n := 0
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		name := e.Name()
		if ignored(name) {
			continue
		}
		if f.idx.Observe(name) {
			metrics.RecordObserved()
		}
		f.queue.Enqueue(name)
		n++
	}

	metrics.SetHiddenFiles(f.idx.HiddenCount())
	metrics.SetQueueDepth(f.queue.Len())
	if n > 0 {
		logging.Info("rescan queued existing files", logging.Int("files", n))
	}
}

// --- fuse.FileSystemInterface ---

func (f *FS) Getattr(path string, stat *fuse.Stat_t, fh uint64) int {
	// An open handle stats its own descriptor; a freshly created root
	// file is path-invisible but must still answer through its fh.
	if h := f.getFh(fh); h != nil && h.file != nil {
		var st unix.Stat_t
		if err := unix.Fstat(int(h.file.Fd()), &st); err != nil {
			return errc(err)
		}
		copyStat(&st, stat)
		return 0
	}

	segs := splitVirtual(path)
	switch len(segs) {
	case 0:
		synthDirStat("/", stat)
		return 0

	case 1:
		name := segs[0]
		if f.idx.HasCategory(name) {
			synthDirStat(name, stat)
			return 0
		}
		// The vanish trick: hidden and categorized names do not
		// resolve at the root.
		if !ignored(name) && f.idx.Suppressed(name) {
			return -fuse.ENOENT
		}
		return f.lstatInto(name, stat)

	case 2:
		category, name := segs[0], segs[1]
		bound, ok := f.idx.CategoryOf(name)
		if !ok || bound != category {
			return -fuse.ENOENT
		}
		return f.lstatInto(name, stat)

	default:
		return -fuse.ENOENT
	}
}

func (f *FS) lstatInto(name string, stat *fuse.Stat_t) int {
	var st unix.Stat_t
	if err := unix.Lstat(filepath.Join(f.cfg.BackingDir, name), &st); err != nil {
		return errc(err)
	}
	copyStat(&st, stat)
	return 0
}

func (f *FS) Readdir(path string, fill func(name string, stat *fuse.Stat_t, ofst int64) bool, ofst int64, fh uint64) int {
	fill(".", nil, 0)
	fill("..", nil, 0)

	segs := splitVirtual(path)
	switch len(segs) {
	case 0:
		// One snapshot for the whole listing so no name is observed
		// mid-transition between hidden and categorized.
		snap := f.idx.Snapshot()

		for _, category := range snap.Categories() {
			var st fuse.Stat_t
			synthDirStat(category, &st)
			if !fill(category, &st, 0) {
				return 0
			}
		}

		entries, err := os.ReadDir(f.cfg.BackingDir)
		if err != nil {
			return errc(err)
		}
		for _, e := range entries {
			name := e.Name()
			// The vanish trick: suppress names awaiting or holding a
			// category. Ignored names pass through untouched.
			if snap.Suppressed(name) {
				continue
			}
			if !fill(name, nil, 0) {
				break
			}
		}
		return 0

	case 1:
		category := segs[0]
		if snap := f.idx.Snapshot(); snap.HasCategory(category) {
			for _, name := range snap.FilesIn(category) {
				var ust unix.Stat_t
				if unix.Lstat(filepath.Join(f.cfg.BackingDir, name), &ust) != nil {
					// Backing file deleted externally; skip.
					continue
				}
				var st fuse.Stat_t
				copyStat(&ust, &st)
				if !fill(name, &st, 0) {
					break
				}
			}
			return 0
		}

		// Legacy passthrough for real subdirectories of the backing
		// store.
		entries, err := os.ReadDir(filepath.Join(f.cfg.BackingDir, category))
		if err != nil {
			return errc(err)
		}
		for _, e := range entries {
			if !fill(e.Name(), nil, 0) {
				break
			}
		}
		return 0

	default:
		return -fuse.ENOTDIR
	}
}

func (f *FS) Opendir(path string) (int, uint64) {
	segs := splitVirtual(path)
	switch len(segs) {
	case 0:
		return 0, 0
	case 1:
		if f.idx.HasCategory(segs[0]) {
			return 0, 0
		}
		fi, err := os.Stat(filepath.Join(f.cfg.BackingDir, segs[0]))
		if err != nil {
			return errc(err), invalidFh
		}
		if !fi.IsDir() {
			return -fuse.ENOTDIR, invalidFh
		}
		return 0, 0
	default:
		return -fuse.ENOTDIR, invalidFh
	}
}

func (f *FS) Releasedir(path string, fh uint64) int {
	return 0
}

func (f *FS) Open(path string, flags int) (int, uint64) {
	real, rc := f.realPath(path)
	if rc != 0 {
		return rc, invalidFh
	}

	file, err := os.OpenFile(real, flags, 0)
	if err != nil {
		return errc(err), invalidFh
	}

	name := ""
	if n, ok := rootName(path); ok {
		name = n
	}
	return 0, f.allocFh(&openHandle{name: name, file: file})
}

func (f *FS) Create(path string, flags int, mode uint32) (int, uint64) {
	real, rc := f.realPath(path)
	if rc != 0 {
		return rc, invalidFh
	}

	file, err := os.OpenFile(real, flags|os.O_CREATE, os.FileMode(mode&0777))
	if err != nil {
		return errc(err), invalidFh
	}

	name := ""
	if n, ok := rootName(path); ok {
		name = n
		if !ignored(name) && f.idx.Observe(name) {
			metrics.RecordObserved()
			metrics.SetHiddenFiles(f.idx.HiddenCount())
			logging.Debug("file observed", logging.String("file", name))
		}
	}

	return 0, f.allocFh(&openHandle{name: name, file: file})
}

func (f *FS) Release(path string, fh uint64) int {
	h := f.freeFh(fh)
	if h != nil && h.file != nil {
		if h.name != "" && !ignored(h.name) {
			if fi, err := h.file.Stat(); err == nil {
				f.idx.SetSize(h.name, fi.Size())
			}
		}
		h.file.Close()
	}

	// Close of a root file triggers classification. Idempotent: the
	// queue dedups, and categorized names are left alone until an
	// explicit recreate.
	if name, ok := rootName(path); ok && !ignored(name) {
		if !f.idx.IsHidden(name) {
			if _, bound := f.idx.CategoryOf(name); bound {
				return 0
			}
			if f.idx.Observe(name) {
				metrics.RecordObserved()
				metrics.SetHiddenFiles(f.idx.HiddenCount())
			}
		}
		if f.queue.Enqueue(name) {
			metrics.SetQueueDepth(f.queue.Len())
			logging.Debug("file queued for classification", logging.String("file", name))
		}
	}
	return 0
}

func (f *FS) Read(path string, buff []byte, ofst int64, fh uint64) int {
	h := f.getFh(fh)
	if h == nil || h.file == nil {
		return -fuse.EIO
	}
	n, err := h.file.ReadAt(buff, ofst)
	if err != nil && err != io.EOF {
		return -fuse.EIO
	}
	return n
}

func (f *FS) Write(path string, buff []byte, ofst int64, fh uint64) int {
	h := f.getFh(fh)
	if h == nil || h.file == nil {
		return -fuse.EIO
	}
	n, err := h.file.WriteAt(buff, ofst)
	if err != nil {
		return errc(err)
	}
	return n
}

func (f *FS) Flush(path string, fh uint64) int {
	return 0
}

func (f *FS) Fsync(path string, datasync bool, fh uint64) int {
	h := f.getFh(fh)
	if h == nil || h.file == nil {
		return 0
	}
	if err := h.file.Sync(); err != nil {
		return errc(err)
	}
	return 0
}

func (f *FS) Truncate(path string, size int64, fh uint64) int {
	if h := f.getFh(fh); h != nil && h.file != nil {
		return errc(h.file.Truncate(size))
	}
	real, rc := f.realPath(path)
	if rc != 0 {
		return rc
	}
	return errc(os.Truncate(real, size))
}

func (f *FS) Unlink(path string) int {
	real, rc := f.realPath(path)
	if rc != 0 {
		return rc
	}
	if err := os.Remove(real); err != nil {
		return errc(err)
	}

	// Drop overlay state for the deleted name so the index never points
	// at a file that no longer exists.
	if name, ok := baseName(path); ok {
		category, known := f.idx.Forget(name)
		if known {
			f.queue.Discard(name)
			metrics.SetHiddenFiles(f.idx.HiddenCount())
			metrics.SetQueueDepth(f.queue.Len())
			if category != "" {
				metrics.SetCategoryFiles(category, f.idx.CategoryCount(category))
			}
			logging.Debug("file forgotten", logging.String("file", name))
		}
	}
	return 0
}

func (f *FS) Rename(oldpath string, newpath string) int {
	oldReal, rc := f.realPath(oldpath)
	if rc != 0 {
		return rc
	}
	newReal, rc := f.realPath(newpath)
	if rc != 0 {
		return rc
	}
	return errc(os.Rename(oldReal, newReal))
}

func (f *FS) Mkdir(path string, mode uint32) int {
	real, rc := f.realPath(path)
	if rc != 0 {
		return rc
	}
	return errc(os.Mkdir(real, os.FileMode(mode&0777)))
}

func (f *FS) Rmdir(path string) int {
	real, rc := f.realPath(path)
	if rc != 0 {
		return rc
	}
	return errc(unix.Rmdir(real))
}

func (f *FS) Chmod(path string, mode uint32) int {
	real, rc := f.realPath(path)
	if rc != 0 {
		return rc
	}
	return errc(os.Chmod(real, os.FileMode(mode&07777)))
}

func (f *FS) Chown(path string, uid uint32, gid uint32) int {
	real, rc := f.realPath(path)
	if rc != 0 {
		return rc
	}
	return errc(os.Lchown(real, int(uid), int(gid)))
}

func (f *FS) Utimens(path string, tmsp []fuse.Timespec) int {
	real, rc := f.realPath(path)
	if rc != 0 {
		return rc
	}

	var ts []unix.Timespec
	if len(tmsp) >= 2 {
		ts = []unix.Timespec{
			{Sec: tmsp[0].Sec, Nsec: tmsp[0].Nsec},
			{Sec: tmsp[1].Sec, Nsec: tmsp[1].Nsec},
		}
	}
	return errc(unix.UtimesNanoAt(unix.AT_FDCWD, real, ts, unix.AT_SYMLINK_NOFOLLOW))
}

func (f *FS) Access(path string, mask uint32) int {
	segs := splitVirtual(path)
	if len(segs) == 0 {
		return 0
	}
	// Synthetic category directories are always accessible.
	if len(segs) == 1 && f.idx.HasCategory(segs[0]) {
		return 0
	}

	real, rc := f.realPath(path)
	if rc != 0 {
		return rc
	}
	return errc(unix.Access(real, mask))
}

func (f *FS) Statfs(path string, stat *fuse.Statfs_t) int {
	real, rc := f.realPath(path)
	if rc != 0 {
		real = f.cfg.BackingDir
	}

	var st unix.Statfs_t
	if err := unix.Statfs(real, &st); err != nil {
		return errc(err)
	}
	stat.Bsize = uint64(st.Bsize)
	stat.Frsize = uint64(st.Frsize)
	stat.Blocks = st.Blocks
	stat.Bfree = st.Bfree
	stat.Bavail = st.Bavail
	stat.Files = st.Files
	stat.Ffree = st.Ffree
	stat.Namemax = uint64(st.Namelen)
	return 0
}

func (f *FS) Mknod(path string, mode uint32, dev uint64) int {
	return -fuse.ENOSYS
}

func (f *FS) Link(oldpath string, newpath string) int {
	return -fuse.ENOSYS
}

func (f *FS) Symlink(target string, newpath string) int {
	return -fuse.ENOSYS
}

func (f *FS) Readlink(path string) (int, string) {
	return -fuse.ENOSYS, ""
}

func (f *FS) Fsyncdir(path string, datasync bool, fh uint64) int {
	return 0
}

func (f *FS) Setxattr(path string, name string, value []byte, flags int) int {
	return -fuse.ENOSYS
}

func (f *FS) Getxattr(path string, name string) (int, []byte) {
	return -fuse.ENODATA, nil
}

func (f *FS) Removexattr(path string, name string) int {
	return -fuse.ENOSYS
}

func (f *FS) Listxattr(path string, fill func(name string) bool) int {
	return 0
}
