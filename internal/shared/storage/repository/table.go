package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"agents-eval/internal/shared/model"
	"agents-eval/internal/shared/storage"
	"agents-eval/internal/shared/storage/dbutil"
)

const selectColumns = `SELECT data FROM `

// Table 单张文档表上的通用仓储
type Table[T model.Record] struct {
	store *Store
	name  string
}

var _ storage.Repository[*model.Run] = (*Table[*model.Run])(nil)

// NewTable 创建文档表仓储，name 必须是 dbutil.Tables 中的表名
func NewTable[T model.Record](s *Store, name string) *Table[T] {
	return &Table[T]{store: s, name: name}
}

func (t *Table[T]) FindAll(ctx context.Context) ([]T, error) {
	return t.FindBy(ctx, storage.Filter{})
}

func (t *Table[T]) FindByID(ctx context.Context, id string) (T, error) {
	var zero T
	query := t.store.rebind(selectColumns + t.name + ` WHERE id = $1`)
	var data []byte
	err := t.store.db.QueryRowContext(ctx, query, id).Scan(&data)
	if err == sql.ErrNoRows {
		return zero, nil
	}
	if err != nil {
		return zero, fmt.Errorf("failed to get %s %s: %w", t.name, id, err)
	}
	return decode[T](data)
}

func (t *Table[T]) FindBy(ctx context.Context, filter storage.Filter) ([]T, error) {
	var conditions []string
	var args []interface{}
	add := func(expr string, v interface{}) {
		args = append(args, v)
		conditions = append(conditions, fmt.Sprintf(expr, len(args)))
	}

	if filter.ProjectID != "" {
		add("project_id = $%d", filter.ProjectID)
	}
	if filter.EvalID != "" {
		add("eval_id = $%d", filter.EvalID)
	}
	if filter.ExecutionID != "" {
		add("execution_id = $%d", filter.ExecutionID)
	}
	if filter.ScenarioID != "" {
		add("scenario_id = $%d", filter.ScenarioID)
	}
	if len(filter.Statuses) > 0 {
		conditions = append(conditions, "status IN ("+dbutil.PlaceholderList(len(args)+1, len(filter.Statuses))+")")
		for _, s := range filter.Statuses {
			args = append(args, s)
		}
	}
	if filter.HeartbeatBefore != nil {
		add("(heartbeat_at IS NULL OR heartbeat_at < $%d)", filter.HeartbeatBefore.UnixNano())
	}

	query, args := dbutil.BuildDynamicQuery(t.store.dialect, selectColumns+t.name, conditions, args)
	query += " ORDER BY created_at ASC, id ASC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := t.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", t.name, err)
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		item, err := decode[T](data)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (t *Table[T]) Save(ctx context.Context, item T) error {
	return t.save(ctx, t.store.db, item)
}

func (t *Table[T]) SaveMany(ctx context.Context, items []T) error {
	tx, err := t.store.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, item := range items {
		if err := t.save(ctx, tx, item); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (t *Table[T]) DeleteByID(ctx context.Context, id string) error {
	query := t.store.rebind(`DELETE FROM ` + t.name + ` WHERE id = $1`)
	res, err := t.store.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete %s %s: %w", t.name, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (t *Table[T]) save(ctx context.Context, db execer, item T) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", t.name, err)
	}
	idx := item.RecordIndex()

	query := `INSERT INTO ` + t.name + ` (id, project_id, status, eval_id, execution_id, scenario_id, heartbeat_at, data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) ` + t.store.dialect.UpsertConflict("id", []string{
		"project_id = EXCLUDED.project_id",
		"status = EXCLUDED.status",
		"eval_id = EXCLUDED.eval_id",
		"execution_id = EXCLUDED.execution_id",
		"scenario_id = EXCLUDED.scenario_id",
		"heartbeat_at = EXCLUDED.heartbeat_at",
		"data = EXCLUDED.data",
		"updated_at = EXCLUDED.updated_at",
	})

	_, err = db.ExecContext(ctx, t.store.rebind(query),
		item.RecordID(), idx.ProjectID, idx.Status, idx.EvalID, idx.ExecutionID, idx.ScenarioID,
		unixNano(idx.HeartbeatAt), string(data), idx.CreatedAt.UnixNano(), idx.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to save %s %s: %w", t.name, item.RecordID(), err)
	}
	return nil
}

func unixNano(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

func decode[T model.Record](data []byte) (T, error) {
	var zero T
	item := reflect.New(reflect.TypeOf(zero).Elem()).Interface().(T)
	if err := json.Unmarshal(data, item); err != nil {
		return zero, fmt.Errorf("failed to decode record: %w", err)
	}
	return item, nil
}
