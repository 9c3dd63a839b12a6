package mongostore

import (
	"context"
	"errors"
	"reflect"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"agents-eval/internal/shared/model"
	"agents-eval/internal/shared/storage"
)

// Collection 单个 Collection 上的通用仓储
type Collection[T model.Record] struct {
	col *mongo.Collection
}

var _ storage.Repository[*model.Run] = (*Collection[*model.Run])(nil)

// NewCollection 创建通用仓储
func NewCollection[T model.Record](col *mongo.Collection) *Collection[T] {
	return &Collection[T]{col: col}
}

func (c *Collection[T]) FindAll(ctx context.Context) ([]T, error) {
	return c.FindBy(ctx, storage.Filter{})
}

func (c *Collection[T]) FindByID(ctx context.Context, id string) (T, error) {
	var zero T
	item := newRecord[T]()
	err := c.col.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(item)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return zero, nil
		}
		return zero, wrapError(err)
	}
	return item, nil
}

func (c *Collection[T]) FindBy(ctx context.Context, filter storage.Filter) ([]T, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}

	cursor, err := c.col.Find(ctx, buildFilter(filter), opts)
	if err != nil {
		return nil, wrapError(err)
	}
	defer cursor.Close(ctx)

	results := []T{}
	for cursor.Next(ctx) {
		item := newRecord[T]()
		if err := cursor.Decode(item); err != nil {
			return nil, err
		}
		results = append(results, item)
	}
	return results, cursor.Err()
}

func (c *Collection[T]) Save(ctx context.Context, item T) error {
	_, err := c.col.ReplaceOne(ctx,
		bson.D{{Key: "_id", Value: item.RecordID()}},
		item,
		options.Replace().SetUpsert(true))
	return wrapError(err)
}

func (c *Collection[T]) SaveMany(ctx context.Context, items []T) error {
	if len(items) == 0 {
		return nil
	}
	writes := make([]mongo.WriteModel, 0, len(items))
	for _, item := range items {
		writes = append(writes, mongo.NewReplaceOneModel().
			SetFilter(bson.D{{Key: "_id", Value: item.RecordID()}}).
			SetReplacement(item).
			SetUpsert(true))
	}
	_, err := c.col.BulkWrite(ctx, writes)
	return wrapError(err)
}

func (c *Collection[T]) DeleteByID(ctx context.Context, id string) error {
	res, err := c.col.DeleteOne(ctx, bson.D{{Key: "_id", Value: id}})
	if err != nil {
		return wrapError(err)
	}
	if res.DeletedCount == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// buildFilter 将通用过滤条件转换为 bson 查询，字段名与 model 的 bson tag 一致
func buildFilter(f storage.Filter) bson.D {
	filter := bson.D{}
	if f.ProjectID != "" {
		filter = append(filter, bson.E{Key: "project_id", Value: f.ProjectID})
	}
	if len(f.Statuses) > 0 {
		filter = append(filter, bson.E{Key: "status", Value: bson.D{{Key: "$in", Value: f.Statuses}}})
	}
	if f.EvalID != "" {
		filter = append(filter, bson.E{Key: "eval_id", Value: f.EvalID})
	}
	if f.ExecutionID != "" {
		filter = append(filter, bson.E{Key: "execution_id", Value: f.ExecutionID})
	}
	if f.ScenarioID != "" {
		filter = append(filter, bson.E{Key: "scenario_id", Value: f.ScenarioID})
	}
	if f.HeartbeatBefore != nil {
		filter = append(filter, bson.E{Key: "$or", Value: bson.A{
			bson.D{{Key: "heartbeat_at", Value: bson.D{{Key: "$exists", Value: false}}}},
			bson.D{{Key: "heartbeat_at", Value: bson.D{{Key: "$lt", Value: *f.HeartbeatBefore}}}},
		}})
	}
	return filter
}

// wrapError 将 MongoDB 错误转换为领域错误
func wrapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return storage.ErrNotFound
	}
	if mongo.IsDuplicateKeyError(err) {
		return storage.ErrDuplicate
	}
	return err
}

func newRecord[T model.Record]() T {
	var zero T
	return reflect.New(reflect.TypeOf(zero).Elem()).Interface().(T)
}
