package dbutil

import "fmt"

// Tables 所有实体表名
var Tables = []string{"projects", "runs", "scenarios", "personas", "connectors", "evals", "executions"}

// DocumentSchema 生成文档表建表语句
//
// 每张表结构一致：索引字段作为独立列，完整实体以 JSON 存入 data 列。
// 时间列保存 Unix 纳秒，保证各数据库排序和比较行为一致。
func DocumentSchema(textType string) string {
	var ddl string
	for _, table := range Tables {
		ddl += fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
    id VARCHAR(64) PRIMARY KEY,
    project_id VARCHAR(64) NOT NULL DEFAULT '',
    status VARCHAR(32) NOT NULL DEFAULT '',
    eval_id VARCHAR(64) NOT NULL DEFAULT '',
    execution_id VARCHAR(64) NOT NULL DEFAULT '',
    scenario_id VARCHAR(64) NOT NULL DEFAULT '',
    heartbeat_at BIGINT,
    data %[2]s NOT NULL,
    created_at BIGINT NOT NULL,
    updated_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_%[1]s_project_status ON %[1]s (project_id, status, created_at);
CREATE INDEX IF NOT EXISTS idx_%[1]s_eval ON %[1]s (eval_id);
CREATE INDEX IF NOT EXISTS idx_%[1]s_execution ON %[1]s (execution_id);
`, table, textType)
	}
	return ddl
}
