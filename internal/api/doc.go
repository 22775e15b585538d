// Package api 暴露 agentd 的 REST 接口：智能体管理、同步与异步运行、
// 任务历史查询，以及 /metrics 与 /healthz。
package api
