// Package config 负责加载 agentd 的 JSON 配置文件，补全默认值，
// 并从环境变量中解析密钥类配置。
package config
