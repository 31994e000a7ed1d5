// Package migrations 内嵌各数据库的建表脚本
package migrations

import "embed"

// FS 按 {type}/{version}_{name}.{up|down}.sql 组织
//
//go:embed postgres/*.sql mysql/*.sql
var FS embed.FS
