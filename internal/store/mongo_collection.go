package store

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/mongofuse/mongofuse/internal/errs"
)

// mongoCollection adapts *mongo.Collection to the store.Collection
// interface. It and conn.go are the only files in this package that
// import the driver's mongo and options packages; everything above them
// works in terms of the plain bson.M filters the core already builds.
type mongoCollection struct {
	c *mongo.Collection
}

func (m *mongoCollection) InsertOne(ctx context.Context, document interface{}) (bson.ObjectID, error) {
	res, err := m.c.InsertOne(ctx, document)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return bson.NilObjectID, errs.Wrap(errs.Exists, "insert", "", err)
		}
		return bson.NilObjectID, err
	}
	id, _ := res.InsertedID.(bson.ObjectID)
	return id, nil
}

func toFindOneOptions(opts []FindOptions) *options.FindOneOptionsBuilder {
	o := options.FindOne()
	for _, fo := range opts {
		if fo.Projection != nil {
			o = o.SetProjection(fo.Projection)
		}
		if fo.Sort != nil {
			o = o.SetSort(fo.Sort)
		}
	}
	return o
}

func toFindOptions(opts []FindOptions) *options.FindOptionsBuilder {
	o := options.Find()
	for _, fo := range opts {
		if fo.Projection != nil {
			o = o.SetProjection(fo.Projection)
		}
		if fo.Sort != nil {
			o = o.SetSort(fo.Sort)
		}
		if fo.Limit != 0 {
			o = o.SetLimit(fo.Limit)
		}
	}
	return o
}

func (m *mongoCollection) FindOne(ctx context.Context, filter interface{}, opts ...FindOptions) Cursor {
	res := m.c.FindOne(ctx, filter, toFindOneOptions(opts))
	return &singleResultCursor{res: res}
}

func (m *mongoCollection) Find(ctx context.Context, filter interface{}, opts ...FindOptions) (Cursor, error) {
	cur, err := m.c.Find(ctx, filter, toFindOptions(opts))
	if err != nil {
		return nil, err
	}
	return &cursorWrapper{cur: cur}, nil
}

func (m *mongoCollection) UpdateOne(ctx context.Context, filter, update interface{}, opts ...UpdateOptions) (UpdateResult, error) {
	o := options.UpdateOne()
	for _, uo := range opts {
		if uo.ArrayFilters != nil {
			filters := make([]interface{}, len(uo.ArrayFilters))
			for i, f := range uo.ArrayFilters {
				filters[i] = f
			}
			o = o.SetArrayFilters(filters)
		}
	}
	res, err := m.c.UpdateOne(ctx, filter, update, o)
	if err != nil {
		return UpdateResult{}, err
	}
	return UpdateResult{MatchedCount: res.MatchedCount, ModifiedCount: res.ModifiedCount}, nil
}

func (m *mongoCollection) ReplaceOne(ctx context.Context, filter, replacement interface{}) (UpdateResult, error) {
	res, err := m.c.ReplaceOne(ctx, filter, replacement)
	if err != nil {
		return UpdateResult{}, err
	}
	return UpdateResult{MatchedCount: res.MatchedCount, ModifiedCount: res.ModifiedCount}, nil
}

func (m *mongoCollection) DeleteOne(ctx context.Context, filter interface{}) (int64, error) {
	res, err := m.c.DeleteOne(ctx, filter)
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (m *mongoCollection) DeleteMany(ctx context.Context, filter interface{}) (int64, error) {
	res, err := m.c.DeleteMany(ctx, filter)
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (m *mongoCollection) CountDocuments(ctx context.Context, filter interface{}) (int64, error) {
	return m.c.CountDocuments(ctx, filter)
}

type singleResultCursor struct {
	res *mongo.SingleResult
}

func (s *singleResultCursor) Next(context.Context) bool { return s.res.Err() == nil }
func (s *singleResultCursor) Decode(v interface{}) error {
	err := s.res.Decode(v)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNoDocuments
	}
	return err
}
func (s *singleResultCursor) Err() error                  { return s.res.Err() }
func (s *singleResultCursor) Close(context.Context) error { return nil }

type cursorWrapper struct {
	cur *mongo.Cursor
}

func (c *cursorWrapper) Next(ctx context.Context) bool    { return c.cur.Next(ctx) }
func (c *cursorWrapper) Decode(v interface{}) error       { return c.cur.Decode(v) }
func (c *cursorWrapper) Err() error                       { return c.cur.Err() }
func (c *cursorWrapper) Close(ctx context.Context) error  { return c.cur.Close(ctx) }
