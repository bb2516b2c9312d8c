package inode

import (
	"context"
	"errors"
	"time"
)

// LockRecord is the advisory lock embedded in an inode document (4.A).
// A single writer or multiple readers may hold the lock at once;
// Time is refreshed on every successful acquisition and is the basis
// for stale-lock reclamation.
type LockRecord struct {
	Writer  bool
	Holders []string
	Time    time.Time
}

type lockDoc struct {
	Writer  bool      `bson:"writer"`
	Holders []string  `bson:"holders"`
	Time    time.Time `bson:"time"`
}

func (l *LockRecord) toDoc() *lockDoc {
	if l == nil {
		return nil
	}
	return &lockDoc{Writer: l.Writer, Holders: l.Holders, Time: l.Time}
}

func (d *lockDoc) toRecord() *LockRecord {
	if d == nil {
		return nil
	}
	return &LockRecord{Writer: d.Writer, Holders: d.Holders, Time: d.Time}
}

// ErrWouldBlock is returned by LockInode when the lock is held by a
// conflicting holder and nonBlocking was requested.
var ErrWouldBlock = errors.New("inode: lock held, would block")

// ErrLockTimeout is returned by LockInode when the lock could not be
// acquired before timeout elapsed.
var ErrLockTimeout = errors.New("inode: timed out waiting for lock")

func (l *LockRecord) stale(now time.Time, ttl time.Duration) bool {
	return l != nil && now.Sub(l.Time) > ttl
}

func (l *LockRecord) conflicts(writer bool, now time.Time, ttl time.Duration) bool {
	if l == nil || l.stale(now, ttl) {
		return false
	}
	if writer {
		return true // a writer conflicts with any existing live lock
	}
	return l.Writer // a reader conflicts only with a live writer
}

func hasHolder(holders []string, holder string) bool {
	for _, h := range holders {
		if h == holder {
			return true
		}
	}
	return false
}

func removeHolder(holders []string, holder string) []string {
	out := holders[:0]
	for _, h := range holders {
		if h != holder {
			out = append(out, h)
		}
	}
	return out
}

// LockInode attempts to acquire the advisory lock on the inode at path
// for holder, as a writer or reader. It polls (no nested/recursive
// acquisition, no blocking primitive in the document store itself)
// until acquired, until timeout elapses, or returns ErrWouldBlock
// immediately if nonBlocking is set and the lock is currently held by a
// conflicting, non-stale holder.
func (s *Store) LockInode(ctx context.Context, path string, writer bool, holder string, timeout time.Duration, nonBlocking bool) error {
	deadline := s.clock.Now().Add(timeout)
	for {
		e, err := s.Get(ctx, path)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		if e.Lock.conflicts(writer, now, s.lockTTL) {
			if nonBlocking {
				return ErrWouldBlock
			}
			if timeout > 0 && now.After(deadline) {
				return ErrLockTimeout
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(lockPollInterval):
			}
			continue
		}

		if e.Lock == nil || e.Lock.stale(now, s.lockTTL) || !writer && !e.Lock.Writer {
			if e.Lock == nil || e.Lock.stale(now, s.lockTTL) {
				e.Lock = &LockRecord{Writer: writer, Holders: []string{holder}, Time: now}
			} else {
				if !hasHolder(e.Lock.Holders, holder) {
					e.Lock.Holders = append(e.Lock.Holders, holder)
				}
				e.Lock.Time = now
			}
		} else {
			e.Lock = &LockRecord{Writer: writer, Holders: []string{holder}, Time: now}
		}

		if err := s.Commit(ctx, e); err != nil {
			return err
		}
		return nil
	}
}

const lockPollInterval = 50 * time.Millisecond

// UnlockInode releases holder's claim on the inode's advisory lock.
// Must be called on every exit path that acquired the lock.
func (s *Store) UnlockInode(ctx context.Context, path string, holder string) error {
	e, err := s.Get(ctx, path)
	if err != nil {
		return err
	}
	if e.Lock == nil {
		return nil
	}
	e.Lock.Holders = removeHolder(e.Lock.Holders, holder)
	if len(e.Lock.Holders) == 0 {
		e.Lock = nil
	}
	return s.Commit(ctx, e)
}
