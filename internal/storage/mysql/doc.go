// Package mysql 提供基于 MySQL 的连接管理、内嵌迁移与智能体仓库实现。
// 任务历史的 MySQL 实现位于 internal/task，与本包共享同一个 *sql.DB。
package mysql
