package inode

import (
	"context"
	"fmt"
	"regexp"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/mongofuse/mongofuse/internal/errs"
	"github.com/mongofuse/mongofuse/internal/store"
)

// ScannedChild is one result of a directory scan: the child inode, and
// which of its (possibly several) dirents matched the scan. Per the
// design notes, the "rotate matching dirent to head" step in the
// original is expressed here as a return value rather than a mutation
// of Inode.Dirents — external callers never see the linked-list-like
// reordering the original performed in place.
type ScannedChild struct {
	Inode       *Inode
	MatchedPath string
}

// ShortName returns the filename portion of the matched path, i.e. the
// name a readdir filler or a recursive orphan walk should use.
func (c ScannedChild) ShortName() string { return baseName(c.MatchedPath) }

// normalizeDir turns a directory path into the prefix used by the
// dirents regex scan: root becomes the empty prefix so "^/[^/]+$"
// matches top-level entries, matching the original's
// `pathlen == 1 ? directory + 1 : directory` special case for "/".
func normalizeDir(dir string) string {
	if dir == "/" {
		return ""
	}
	return dir
}

// quoteRegexLiteral escapes path characters that are regex metacharacters
// outside of the slash-delimiter role they play here (notably '.').
func quoteRegexLiteral(s string) string {
	return regexp.QuoteMeta(s)
}

// ScanChildren lists the live inodes whose canonical dirent is a direct
// child of dir, i.e. matches ^dir/[^/]+$ (component 4.B). Children named
// ".snapshot" of mode S_IFDIR are suppressed here, in the shared scan,
// exactly as the original's read_dirents suppresses them before handing
// each match to its per-entry callback — so readdir, rmdir's emptiness
// walk substitute, and the snapshot engine's per-directory freeze all
// inherit the same "snapshots are not enumerable" rule for free.
func (s *Store) ScanChildren(ctx context.Context, dir string) ([]ScannedChild, error) {
	prefix := normalizeDir(dir)
	pattern := fmt.Sprintf("^%s/[^/]+$", quoteRegexLiteral(prefix))

	cur, err := s.coll.Find(ctx, bson.M{"dirents": bson.M{"$regex": pattern}},
		store.FindOptions{Projection: bson.M{"data": 0}})
	if err != nil {
		return nil, errs.Wrap(errs.IO, "scan_children", dir, err)
	}
	defer cur.Close(ctx)

	var out []ScannedChild
	for cur.Next(ctx) {
		var d document
		if err := cur.Decode(&d); err != nil {
			return nil, errs.Wrap(errs.IO, "scan_children", dir, err)
		}
		e := fromDocument(d)

		matched := canonicalDirent(e.Dirents, dir)
		if matched == "" {
			continue
		}
		if baseName(matched) == ".snapshot" && e.IsDir() {
			continue
		}
		out = append(out, ScannedChild{Inode: e, MatchedPath: matched})
	}
	if err := cur.Err(); err != nil {
		return nil, errs.Wrap(errs.IO, "scan_children", dir, err)
	}
	return out, nil
}

// canonicalDirent returns the dirent of dirents whose path begins with
// the dir prefix — the "canonical dirent" for a scan of dir.
func canonicalDirent(dirents []string, dir string) string {
	prefix := normalizeDir(dir)
	for _, p := range dirents {
		if len(p) > len(prefix) && p[:len(prefix)] == prefix && p[len(prefix)] == '/' {
			return p
		}
	}
	return ""
}

// Rename atomically rewrites the single dirent string old to new on
// whichever inode currently has it. No path-collision check is
// performed at this layer; callers must have verified new does not
// already resolve to a live inode.
func (s *Store) Rename(ctx context.Context, old, new string) error {
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"dirents": old},
		bson.M{"$set": bson.M{"dirents.$": new}})
	if err != nil {
		return errs.Wrap(errs.IO, "rename", old, err)
	}
	if res.MatchedCount == 0 {
		return errs.New(errs.NotFound, "rename", old)
	}
	return nil
}
