// Package builtin 内置连接器注册
package builtin

import (
	"agents-eval/pkg/connector"
	"agents-eval/pkg/connector/http"
	"agents-eval/pkg/connector/langgraph"
)

// Default 返回注册了 http 和 langgraph 的注册表
func Default() *connector.Registry {
	return connector.NewRegistry().
		MustRegister(http.New()).
		MustRegister(langgraph.New())
}
