// Package storetest provides an in-memory fake of store.Collection, so
// internal/inode, internal/extent, internal/blockstore, and the
// directory/snapshot/read-write packages built on them can be tested
// without a live mongod. It mirrors the teacher's habit of testing the
// filesystem core against a fake backing store (their GCS bucket fakes)
// rather than the real remote service.
package storetest

import (
	"context"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"sync"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/mongofuse/mongofuse/internal/store"
)

// Collection is an in-memory store.Collection. Every document is round
// tripped through bson marshal/unmarshal on insert, so a test observes
// the same field shapes (e.g. binary, not []byte) it would against a
// real driver.
type Collection struct {
	mu   sync.Mutex
	docs []bson.M
}

func NewCollection() *Collection { return &Collection{} }

func toBSONM(v interface{}) (bson.M, error) {
	raw, err := bson.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m bson.M
	if err := bson.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *Collection) InsertOne(_ context.Context, document interface{}) (bson.ObjectID, error) {
	m, err := toBSONM(document)
	if err != nil {
		return bson.NilObjectID, err
	}
	var id bson.ObjectID
	switch v := m["_id"].(type) {
	case nil:
		id = bson.NewObjectID()
		m["_id"] = id
	case bson.ObjectID:
		id = v
		if id.IsZero() {
			id = bson.NewObjectID()
			m["_id"] = id
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.docs = append(c.docs, m)
	return id, nil
}

func (c *Collection) findLocked(filter interface{}) ([]bson.M, error) {
	fm, err := toFilterM(filter)
	if err != nil {
		return nil, err
	}
	var out []bson.M
	for _, d := range c.docs {
		if matchesFilter(d, fm) {
			out = append(out, d)
		}
	}
	return out, nil
}

func toFilterM(filter interface{}) (bson.M, error) {
	if filter == nil {
		return bson.M{}, nil
	}
	if m, ok := filter.(bson.M); ok {
		return m, nil
	}
	return toBSONM(filter)
}

func (c *Collection) Find(ctx context.Context, filter interface{}, opts ...store.FindOptions) (store.Cursor, error) {
	c.mu.Lock()
	matches, err := c.findLocked(filter)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}

	var o store.FindOptions
	for _, fo := range opts {
		o = fo
	}
	applyProjection(matches, o.Projection)
	if len(o.Sort) > 0 {
		sortDocs(matches, o.Sort)
	}
	if o.Limit > 0 && int64(len(matches)) > o.Limit {
		matches = matches[:o.Limit]
	}
	return &cursor{docs: matches, idx: -1}, nil
}

func (c *Collection) FindOne(ctx context.Context, filter interface{}, opts ...store.FindOptions) store.Cursor {
	cur, err := c.Find(ctx, filter, opts...)
	if err != nil {
		return &cursor{err: err, idx: -1}
	}
	cc := cur.(*cursor)
	if len(cc.docs) > 1 {
		cc.docs = cc.docs[:1]
	}
	// FindOne's result, like mongo.SingleResult, is ready to Decode
	// without a prior Next() call.
	cc.idx = 0
	return cc
}

func (c *Collection) UpdateOne(_ context.Context, filter, update interface{}, opts ...store.UpdateOptions) (store.UpdateResult, error) {
	fm, err := toFilterM(filter)
	if err != nil {
		return store.UpdateResult{}, err
	}
	um, err := toFilterM(update)
	if err != nil {
		return store.UpdateResult{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, d := range c.docs {
		if !matchesFilter(d, fm) {
			continue
		}
		set, _ := um["$set"].(bson.M)
		for k, v := range set {
			applySet(d, k, v, fm)
		}
		inc, _ := um["$inc"].(bson.M)
		for k, v := range inc {
			cur, _ := toInt64(d[k])
			delta, _ := toInt64(v)
			d[k] = cur + delta
		}
		return store.UpdateResult{MatchedCount: 1, ModifiedCount: 1}, nil
	}
	return store.UpdateResult{}, nil
}

// applySet supports plain field assignment and the "field.$" positional
// form used by rename, where filter[field] identifies which array
// element to replace.
func applySet(d bson.M, key string, val interface{}, filter bson.M) {
	const posSuffix = ".$"
	if len(key) > len(posSuffix) && key[len(key)-len(posSuffix):] == posSuffix {
		field := key[:len(key)-len(posSuffix)]
		arr, _ := d[field].(bson.A)
		match := filter[field]
		for i, elem := range arr {
			if reflect.DeepEqual(elem, match) {
				arr[i] = val
				break
			}
		}
		d[field] = arr
		return
	}
	d[key] = val
}

func (c *Collection) ReplaceOne(_ context.Context, filter, replacement interface{}) (store.UpdateResult, error) {
	fm, err := toFilterM(filter)
	if err != nil {
		return store.UpdateResult{}, err
	}
	rm, err := toBSONM(replacement)
	if err != nil {
		return store.UpdateResult{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for i, d := range c.docs {
		if matchesFilter(d, fm) {
			if _, ok := rm["_id"]; !ok {
				rm["_id"] = d["_id"]
			}
			c.docs[i] = rm
			return store.UpdateResult{MatchedCount: 1, ModifiedCount: 1}, nil
		}
	}
	return store.UpdateResult{}, nil
}

func (c *Collection) DeleteOne(_ context.Context, filter interface{}) (int64, error) {
	fm, err := toFilterM(filter)
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, d := range c.docs {
		if matchesFilter(d, fm) {
			c.docs = append(c.docs[:i], c.docs[i+1:]...)
			return 1, nil
		}
	}
	return 0, nil
}

func (c *Collection) DeleteMany(_ context.Context, filter interface{}) (int64, error) {
	fm, err := toFilterM(filter)
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	var kept []bson.M
	var n int64
	for _, d := range c.docs {
		if matchesFilter(d, fm) {
			n++
			continue
		}
		kept = append(kept, d)
	}
	c.docs = kept
	return n, nil
}

func (c *Collection) CountDocuments(_ context.Context, filter interface{}) (int64, error) {
	fm, err := toFilterM(filter)
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int64
	for _, d := range c.docs {
		if matchesFilter(d, fm) {
			n++
		}
	}
	return n, nil
}

// --- matching ---------------------------------------------------------

func matchesFilter(doc bson.M, filter bson.M) bool {
	for field, cond := range filter {
		if !matchField(doc[field], cond) {
			return false
		}
	}
	return true
}

func matchField(fieldVal interface{}, cond interface{}) bool {
	if ops, ok := cond.(bson.M); ok {
		for op, opval := range ops {
			if !matchOp(fieldVal, op, opval) {
				return false
			}
		}
		return true
	}
	return matchEquality(fieldVal, cond)
}

func matchEquality(fieldVal, cond interface{}) bool {
	if arr, ok := fieldVal.(bson.A); ok {
		for _, elem := range arr {
			if valuesEqual(elem, cond) {
				return true
			}
		}
		return false
	}
	return valuesEqual(fieldVal, cond)
}

func valuesEqual(a, b interface{}) bool {
	return fmt.Sprint(a) == fmt.Sprint(b) && reflect.TypeOf(a) == reflect.TypeOf(b) || reflect.DeepEqual(a, b)
}

func matchOp(fieldVal interface{}, op string, opval interface{}) bool {
	switch op {
	case "$regex":
		pattern, _ := opval.(string)
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false
		}
		if arr, ok := fieldVal.(bson.A); ok {
			for _, elem := range arr {
				if s, ok := elem.(string); ok && re.MatchString(s) {
					return true
				}
			}
			return false
		}
		s, ok := fieldVal.(string)
		return ok && re.MatchString(s)
	case "$lt", "$lte", "$gt", "$gte":
		return compareOp(fieldVal, op, opval)
	default:
		return false
	}
}

func compareOp(a interface{}, op string, b interface{}) bool {
	av, aok := toInt64(a)
	bv, bok := toInt64(b)
	if aok && bok {
		switch op {
		case "$lt":
			return av < bv
		case "$lte":
			return av <= bv
		case "$gt":
			return av > bv
		case "$gte":
			return av >= bv
		}
	}
	aoid, aok := a.(bson.ObjectID)
	boid, bok := b.(bson.ObjectID)
	if aok && bok {
		cmp := compareObjectID(aoid, boid)
		switch op {
		case "$lt":
			return cmp < 0
		case "$lte":
			return cmp <= 0
		case "$gt":
			return cmp > 0
		case "$gte":
			return cmp >= 0
		}
	}
	return false
}

func compareObjectID(a, b bson.ObjectID) int {
	ab, bb := a[:], b[:]
	for i := range ab {
		if ab[i] != bb[i] {
			if ab[i] < bb[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

func applyProjection(docs []bson.M, proj bson.M) {
	if len(proj) == 0 {
		return
	}
	for i, d := range docs {
		cp := make(bson.M, len(d))
		for k, v := range d {
			cp[k] = v
		}
		for field, include := range proj {
			if fmt.Sprint(include) == "0" {
				delete(cp, field)
			}
		}
		docs[i] = cp
	}
}

func sortDocs(docs []bson.M, sortSpec bson.D) {
	sort.SliceStable(docs, func(i, j int) bool {
		for _, s := range sortSpec {
			av, bv := docs[i][s.Key], docs[j][s.Key]
			c := compareAny(av, bv)
			if c == 0 {
				continue
			}
			dir, _ := toInt64(s.Value)
			if dir < 0 {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

func compareAny(a, b interface{}) int {
	if av, ok := toInt64(a); ok {
		if bv, ok := toInt64(b); ok {
			switch {
			case av < bv:
				return -1
			case av > bv:
				return 1
			default:
				return 0
			}
		}
	}
	if aoid, ok := a.(bson.ObjectID); ok {
		if boid, ok := b.(bson.ObjectID); ok {
			return compareObjectID(aoid, boid)
		}
	}
	return 0
}

// --- cursor -------------------------------------------------------------

type cursor struct {
	docs []bson.M
	idx  int
	err  error
}

func (c *cursor) Next(context.Context) bool {
	if c.err != nil {
		return false
	}
	c.idx++
	return c.idx < len(c.docs)
}

func (c *cursor) Decode(v interface{}) error {
	if c.err != nil {
		return c.err
	}
	if c.idx < 0 || c.idx >= len(c.docs) {
		return store.ErrNoDocuments
	}
	raw, err := bson.Marshal(c.docs[c.idx])
	if err != nil {
		return err
	}
	return bson.Unmarshal(raw, v)
}

func (c *cursor) Err() error                      { return c.err }
func (c *cursor) Close(context.Context) error      { return nil }

var _ store.Collection = (*Collection)(nil)
