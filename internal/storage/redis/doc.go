// Package redis 提供 agentd 跨进程共享的 Redis 组件：智能体运行锁、
// 价格索引缓存以及运行进度的发布通道。
package redis
