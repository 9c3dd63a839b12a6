// Package main 评测命令行工具
//
// 直接连接存储执行运行相关操作，不经过 HTTP API。
package main

import (
	"os"

	"agents-eval/internal/config"
)

func main() {
	c := &cli{bootstrap: defaultBootstrap, loadCfg: config.Load}
	if err := execute(c, os.Args[1:]); err != nil {
		// cobra 已输出错误
		os.Exit(1)
	}
}
