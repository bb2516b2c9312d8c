// Package fuseadapter is the external collaboration boundary (component
// 4.H): it implements jacobsa/fuse's fuseops.FileSystem by translating
// between kernel-minted inode numbers and the document store's path- and
// id-addressed inodes, and by turning internal/errs.Kind values into the
// negated errno the kernel expects.
package fuseadapter

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"

	"github.com/mongofuse/mongofuse/internal/dirops"
	"github.com/mongofuse/mongofuse/internal/errs"
	"github.com/mongofuse/mongofuse/internal/inode"
	"github.com/mongofuse/mongofuse/internal/metrics"
	"github.com/mongofuse/mongofuse/internal/rw"
	"github.com/mongofuse/mongofuse/internal/snapshot"
)

// FileSystem adapts the filesystem core to fuseops.FileSystem. The
// kernel only ever hands back inode numbers it has previously been given
// by a LookUpInode/MkDir/CreateFile response, so the adapter's own job
// is purely bookkeeping: which path does this number currently name, and
// how many outstanding kernel references does it have.
type FileSystem struct {
	fuseutil.NotImplementedFileSystem

	inodes  *inode.Store
	dirs    *dirops.Ops
	rw      *rw.Path
	snap    *snapshot.Engine
	metrics *metrics.Handle

	mu          sync.Mutex
	pathsByID   map[fuseops.InodeID]string
	idsByPath   map[string]fuseops.InodeID
	lookupCount map[fuseops.InodeID]uint64
	nextID      fuseops.InodeID
}

func New(inodes *inode.Store, dirs *dirops.Ops, rwPath *rw.Path, snap *snapshot.Engine) *FileSystem {
	fs := &FileSystem{
		inodes:      inodes,
		dirs:        dirs,
		rw:          rwPath,
		snap:        snap,
		pathsByID:   map[fuseops.InodeID]string{fuseops.RootInodeID: "/"},
		idsByPath:   map[string]fuseops.InodeID{"/": fuseops.RootInodeID},
		lookupCount: map[fuseops.InodeID]uint64{fuseops.RootInodeID: 1},
		nextID:      fuseops.RootInodeID + 1,
	}
	return fs
}

// WithMetrics attaches a metrics handle that the instrumented operations
// (LookUpInode, MkDir, CreateFile, RmDir, Unlink, Rename, ReadFile,
// WriteFile) record latency and error counts against. A nil handle (the
// default) makes RecordOp a no-op, so this is optional.
func (fs *FileSystem) WithMetrics(h *metrics.Handle) *FileSystem {
	fs.metrics = h
	return fs
}

// instrument records op's latency and, if err is non-nil, its error
// kind. Call as `defer fs.instrument("write_file", time.Now(), &err)`.
func (fs *FileSystem) instrument(op string, start time.Time, err *error) {
	var kind string
	if *err != nil {
		kind = errs.KindOf(*err).String()
	}
	fs.metrics.RecordOp(op, start, *err, kind)
}

// errno turns an errs.Kind into the error jacobsa/fuse recognizes as a
// specific negated errno; everything else is surfaced as EIO.
func errno(err error) error {
	if err == nil {
		return nil
	}
	switch errs.KindOf(err) {
	case errs.NotFound:
		return fuse.ENOENT
	case errs.IsDir:
		return fuse.EISDIR
	case errs.NotDir:
		return fuse.ENOTDIR
	case errs.NotEmpty:
		return fuse.ENOTEMPTY
	case errs.AccessDenied:
		return fuse.EPERM
	case errs.Exists:
		return fuse.EEXIST
	case errs.NoMem:
		return fuse.ENOMEM
	default:
		return fuse.EIO
	}
}

func childPath(parent string, name string) string {
	if parent == "/" {
		return "/" + name
	}
	return parent + "/" + name
}

// resolve returns the path registered for id, or false if the kernel
// handed back a number the adapter never minted.
func (fs *FileSystem) resolve(id fuseops.InodeID) (string, bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	p, ok := fs.pathsByID[id]
	return p, ok
}

// register mints (or reuses) the InodeID for path and bumps its lookup
// count, mirroring the kernel's reference-counting contract: every
// response that includes a ChildInodeEntry implicitly grants one
// reference, released later via ForgetInode.
func (fs *FileSystem) register(path string) fuseops.InodeID {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if id, ok := fs.idsByPath[path]; ok {
		fs.lookupCount[id]++
		return id
	}
	id := fs.nextID
	fs.nextID++
	fs.pathsByID[id] = path
	fs.idsByPath[path] = id
	fs.lookupCount[id] = 1
	return id
}

func attributesFor(e *inode.Inode) fuseops.InodeAttributes {
	nlink := uint32(1)
	if e.IsDir() {
		nlink = 2
	}
	return fuseops.InodeAttributes{
		Size:   uint64(e.Size),
		Nlink:  nlink,
		Mode:   os.FileMode(e.Mode & 0777),
		Atime:  e.Modified,
		Mtime:  e.Modified,
		Ctime:  e.Modified,
		Crtime: e.Created,
		Uid:    uint32(e.Owner),
		Gid:    uint32(e.Group),
	}
}

func (fs *FileSystem) entryFor(ctx context.Context, path string) (fuseops.ChildInodeEntry, error) {
	e, err := fs.inodes.Get(ctx, path)
	if err != nil {
		return fuseops.ChildInodeEntry{}, err
	}
	id := fs.register(path)
	return fuseops.ChildInodeEntry{
		Child:      id,
		Attributes: attributesFor(e),
	}, nil
}

func (fs *FileSystem) Init(ctx context.Context, op *fuseops.InitOp) error {
	return nil
}

func (fs *FileSystem) LookUpInode(ctx context.Context, op *fuseops.LookUpInodeOp) (err error) {
	defer fs.instrument("lookup_inode", time.Now(), &err)
	parent, ok := fs.resolve(op.Parent)
	if !ok {
		return fuse.ENOENT
	}
	entry, err := fs.entryFor(ctx, childPath(parent, op.Name))
	if err != nil {
		return errno(err)
	}
	op.Entry = entry
	return nil
}

func (fs *FileSystem) GetInodeAttributes(ctx context.Context, op *fuseops.GetInodeAttributesOp) error {
	path, ok := fs.resolve(op.Inode)
	if !ok {
		return fuse.ENOENT
	}
	e, err := fs.inodes.Get(ctx, path)
	if err != nil {
		return errno(err)
	}
	op.Attributes = attributesFor(e)
	return nil
}

func (fs *FileSystem) SetInodeAttributes(ctx context.Context, op *fuseops.SetInodeAttributesOp) error {
	path, ok := fs.resolve(op.Inode)
	if !ok {
		return fuse.ENOENT
	}

	if op.Size != nil {
		if err := fs.rw.Truncate(ctx, path, int64(*op.Size)); err != nil {
			return errno(err)
		}
	}
	if op.Mode != nil {
		e, err := fs.inodes.Get(ctx, path)
		if err != nil {
			return errno(err)
		}
		e.Mode = (e.Mode &^ 0777) | uint32(*op.Mode&0777)
		if err := fs.inodes.Commit(ctx, e); err != nil {
			return errno(err)
		}
	}

	e, err := fs.inodes.Get(ctx, path)
	if err != nil {
		return errno(err)
	}
	op.Attributes = attributesFor(e)
	return nil
}

func (fs *FileSystem) ForgetInode(ctx context.Context, op *fuseops.ForgetInodeOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if op.Inode == fuseops.RootInodeID {
		return nil
	}
	count, ok := fs.lookupCount[op.Inode]
	if !ok {
		return nil
	}
	if count <= op.N {
		path := fs.pathsByID[op.Inode]
		delete(fs.pathsByID, op.Inode)
		delete(fs.idsByPath, path)
		delete(fs.lookupCount, op.Inode)
		return nil
	}
	fs.lookupCount[op.Inode] = count - op.N
	return nil
}

// isSnapshotDir reports whether dir is some directory's .snapshot child,
// the only place a mkdir mints a new generation instead of a plain
// directory.
func isSnapshotDir(dir string) bool {
	return strings.HasSuffix(dir, "/.snapshot")
}

func (fs *FileSystem) MkDir(ctx context.Context, op *fuseops.MkDirOp) (err error) {
	defer fs.instrument("mkdir", time.Now(), &err)
	parent, ok := fs.resolve(op.Parent)
	if !ok {
		return fuse.ENOENT
	}

	if isSnapshotDir(parent) {
		owner := strings.TrimSuffix(parent, "/.snapshot")
		generation, err := fs.snap.CreateGeneration(ctx, owner, uint32(op.Mode.Perm())|inode.ModeDir)
		if err != nil {
			return errno(err)
		}
		fs.metrics.RecordSnapshotGeneration()
		entry, err := fs.entryFor(ctx, owner+"/.snapshot/"+strconv.Itoa(generation))
		if err != nil {
			return errno(err)
		}
		op.Entry = entry
		return nil
	}

	path := childPath(parent, op.Name)
	if err := fs.dirs.Mkdir(ctx, path, uint32(op.Mode.Perm())|inode.ModeDir); err != nil {
		return errno(err)
	}
	entry, err := fs.entryFor(ctx, path)
	if err != nil {
		return errno(err)
	}
	op.Entry = entry
	return nil
}

func (fs *FileSystem) CreateFile(ctx context.Context, op *fuseops.CreateFileOp) (err error) {
	defer fs.instrument("create_file", time.Now(), &err)
	parent, ok := fs.resolve(op.Parent)
	if !ok {
		return fuse.ENOENT
	}
	path := childPath(parent, op.Name)
	if _, err := fs.inodes.Create(ctx, path, uint32(op.Mode.Perm())|inode.ModeRegular, nil); err != nil {
		return errno(err)
	}
	entry, err := fs.entryFor(ctx, path)
	if err != nil {
		return errno(err)
	}
	op.Entry = entry
	return nil
}

func (fs *FileSystem) CreateSymlink(ctx context.Context, op *fuseops.CreateSymlinkOp) error {
	parent, ok := fs.resolve(op.Parent)
	if !ok {
		return fuse.ENOENT
	}
	path := childPath(parent, op.Name)
	if _, err := fs.inodes.Create(ctx, path, inode.ModeSymlink|0777, []byte(op.Target)); err != nil {
		return errno(err)
	}
	entry, err := fs.entryFor(ctx, path)
	if err != nil {
		return errno(err)
	}
	op.Entry = entry
	return nil
}

func (fs *FileSystem) ReadSymlink(ctx context.Context, op *fuseops.ReadSymlinkOp) error {
	path, ok := fs.resolve(op.Inode)
	if !ok {
		return fuse.ENOENT
	}
	e, err := fs.inodes.Get(ctx, path)
	if err != nil {
		return errno(err)
	}
	op.Target = string(e.Data)
	return nil
}

func (fs *FileSystem) RmDir(ctx context.Context, op *fuseops.RmDirOp) (err error) {
	defer fs.instrument("rmdir", time.Now(), &err)
	parent, ok := fs.resolve(op.Parent)
	if !ok {
		return fuse.ENOENT
	}
	if err := fs.dirs.Rmdir(ctx, childPath(parent, op.Name)); err != nil {
		return errno(err)
	}
	return nil
}

func (fs *FileSystem) Unlink(ctx context.Context, op *fuseops.UnlinkOp) (err error) {
	defer fs.instrument("unlink", time.Now(), &err)
	parent, ok := fs.resolve(op.Parent)
	if !ok {
		return fuse.ENOENT
	}
	path := childPath(parent, op.Name)
	e, err := fs.inodes.Get(ctx, path)
	if err != nil {
		return errno(err)
	}
	if err := fs.inodes.Delete(ctx, e.ID); err != nil {
		return errno(err)
	}
	return nil
}

func (fs *FileSystem) Rename(ctx context.Context, op *fuseops.RenameOp) (err error) {
	defer fs.instrument("rename", time.Now(), &err)
	oldParent, ok := fs.resolve(op.OldParent)
	if !ok {
		return fuse.ENOENT
	}
	newParent, ok := fs.resolve(op.NewParent)
	if !ok {
		return fuse.ENOENT
	}
	old := childPath(oldParent, op.OldName)
	new := childPath(newParent, op.NewName)
	if err := fs.dirs.Rename(ctx, old, new); err != nil {
		return errno(err)
	}
	return nil
}

func (fs *FileSystem) OpenDir(ctx context.Context, op *fuseops.OpenDirOp) error {
	return nil
}

func (fs *FileSystem) ReadDir(ctx context.Context, op *fuseops.ReadDirOp) error {
	path, ok := fs.resolve(op.Inode)
	if !ok {
		return fuse.ENOENT
	}
	entries, err := fs.dirs.Readdir(ctx, path)
	if err != nil {
		return errno(err)
	}

	var written int
	for i := int(op.Offset); i < len(entries); i++ {
		e := entries[i]
		dtype := fuseutil.DT_File
		if e.Mode&inode.ModeTypeMask == inode.ModeDir {
			dtype = fuseutil.DT_Dir
		} else if e.Mode&inode.ModeTypeMask == inode.ModeSymlink {
			dtype = fuseutil.DT_Link
		}
		n := fuseutil.WriteDirent(op.Dst[written:], fuseutil.Dirent{
			Offset: fuseops.DirOffset(i + 1),
			Inode:  fuseops.InodeID(i + 2), // placeholder; getattr re-resolves by name on lookup
			Name:   e.Name,
			Type:   dtype,
		})
		if n == 0 {
			break
		}
		written += n
	}
	op.BytesRead = written
	return nil
}

func (fs *FileSystem) ReleaseDirHandle(ctx context.Context, op *fuseops.ReleaseDirHandleOp) error {
	return nil
}

func (fs *FileSystem) OpenFile(ctx context.Context, op *fuseops.OpenFileOp) error {
	return nil
}

func (fs *FileSystem) ReadFile(ctx context.Context, op *fuseops.ReadFileOp) (err error) {
	defer fs.instrument("read_file", time.Now(), &err)
	path, ok := fs.resolve(op.Inode)
	if !ok {
		return fuse.ENOENT
	}
	n, err2 := fs.rw.Read(ctx, path, op.Dst, op.Offset)
	if err2 != nil {
		return errno(err2)
	}
	op.BytesRead = n
	return nil
}

func (fs *FileSystem) WriteFile(ctx context.Context, op *fuseops.WriteFileOp) (err error) {
	defer fs.instrument("write_file", time.Now(), &err)
	path, ok := fs.resolve(op.Inode)
	if !ok {
		return fuse.ENOENT
	}
	if _, err := fs.rw.Write(ctx, path, op.Data, op.Offset); err != nil {
		return errno(err)
	}
	return nil
}

func (fs *FileSystem) FlushFile(ctx context.Context, op *fuseops.FlushFileOp) error {
	return nil
}

func (fs *FileSystem) SyncFile(ctx context.Context, op *fuseops.SyncFileOp) error {
	return nil
}

func (fs *FileSystem) ReleaseFileHandle(ctx context.Context, op *fuseops.ReleaseFileHandleOp) error {
	return nil
}

func (fs *FileSystem) StatFS(ctx context.Context, op *fuseops.StatFSOp) error {
	return nil
}

func (fs *FileSystem) Destroy() {}

var _ fuseops.FileSystem = (*FileSystem)(nil)

// mountDescription formats a "mongofuse:<db>" mount label. cmd/mount.go
// does not use it; its fuse.MountConfig sets FSName to "mongofuse".
func mountDescription(dbName string) string {
	return fmt.Sprintf("mongofuse:%s", dbName)
}

// pollInterval is an unmount polling interval. It is unexported and
// cmd/mount.go's fuse.MountConfig does not reference it.
const pollInterval = 250 * time.Millisecond
