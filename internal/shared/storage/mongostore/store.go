// Package mongostore 基于 MongoDB 的仓储实现
//
// 使用 mongo-go-driver v2，通过 bson tag 实现 model 结构体的序列化/反序列化。
// 所有 Collection 名称和索引在 ensureIndexes 中统一管理。
package mongostore

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"agents-eval/internal/shared/model"
	"agents-eval/internal/shared/storage"
)

// Collection 名称常量
const (
	ColProjects   = "projects"
	ColRuns       = "runs"
	ColScenarios  = "scenarios"
	ColPersonas   = "personas"
	ColConnectors = "connectors"
	ColEvals      = "evals"
	ColExecutions = "executions"
)

// Store MongoDB 连接
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

// NewStore 创建 MongoDB 存储实例
//
// uri: MongoDB 连接 URI，如 "mongodb://localhost:27017"
// dbName: 数据库名称，如 "agents_eval"
func NewStore(ctx context.Context, uri, dbName string) (*Store, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongostore: connect failed: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("mongostore: ping failed: %w", err)
	}

	s := &Store{client: client, db: client.Database(dbName)}

	if err := s.ensureIndexes(ctx); err != nil {
		log.Printf("WARNING: mongostore: ensure indexes failed: %v", err)
	}

	return s, nil
}

// Close 关闭 MongoDB 连接
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// Repos 创建绑定到该数据库的一组仓储
func (s *Store) Repos(projectID string) *storage.Repos {
	repos := &storage.Repos{
		ProjectID:  projectID,
		Projects:   NewCollection[*model.Project](s.col(ColProjects)),
		Runs:       NewCollection[*model.Run](s.col(ColRuns)),
		Scenarios:  NewCollection[*model.Scenario](s.col(ColScenarios)),
		Personas:   NewCollection[*model.Persona](s.col(ColPersonas)),
		Connectors: NewCollection[*model.Connector](s.col(ColConnectors)),
		Evals:      NewCollection[*model.Eval](s.col(ColEvals)),
		Executions: NewCollection[*model.Execution](s.col(ColExecutions)),
	}
	return repos.WithCloser(s.Close)
}

// col 获取指定 Collection
func (s *Store) col(name string) *mongo.Collection {
	return s.db.Collection(name)
}

// ensureIndexes 创建所有必要的索引
func (s *Store) ensureIndexes(ctx context.Context) error {
	type idx struct {
		col  string
		keys bson.D
	}

	indexes := []idx{
		{ColRuns, bson.D{{Key: "project_id", Value: 1}, {Key: "status", Value: 1}, {Key: "created_at", Value: 1}}},
		{ColRuns, bson.D{{Key: "eval_id", Value: 1}}},
		{ColRuns, bson.D{{Key: "execution_id", Value: 1}}},
		{ColRuns, bson.D{{Key: "status", Value: 1}, {Key: "heartbeat_at", Value: 1}}},
		{ColExecutions, bson.D{{Key: "eval_id", Value: 1}, {Key: "number", Value: -1}}},
		{ColScenarios, bson.D{{Key: "project_id", Value: 1}}},
		{ColPersonas, bson.D{{Key: "project_id", Value: 1}}},
		{ColConnectors, bson.D{{Key: "project_id", Value: 1}}},
		{ColEvals, bson.D{{Key: "project_id", Value: 1}}},
	}

	for _, i := range indexes {
		im := mongo.IndexModel{Keys: i.keys}
		if _, err := s.col(i.col).Indexes().CreateOne(ctx, im); err != nil {
			return fmt.Errorf("create index on %s: %w", i.col, err)
		}
	}
	return nil
}
