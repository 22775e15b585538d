package pythonbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	xerrors "SwapAgent-Chain/internal/errors"
)

// Client 通过调用 Python 脚本实现大模型补全。脚本从 stdin 读取
// {"prompt": ...}，向 stdout 输出 {"completion": ...} 或纯文本。
type Client struct {
	pythonExec string
	scriptPath string
	workingDir string
}

// NewClient 创建 Python Bridge 客户端。
func NewClient(pythonExec, scriptPath, workingDir string) (*Client, error) {
	if scriptPath == "" {
		return nil, xerrors.New(xerrors.CodeConfiguration, "未指定 Python 脚本路径")
	}
	if pythonExec == "" {
		pythonExec = "python3"
	}
	return &Client{
		pythonExec: pythonExec,
		scriptPath: scriptPath,
		workingDir: workingDir,
	}, nil
}

// Complete 调用外部脚本，并解析输出。
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	encoded, err := json.Marshal(map[string]any{
		"prompt":    prompt,
		"timestamp": time.Now().Unix(),
	})
	if err != nil {
		return "", fmt.Errorf("序列化请求失败: %w", err)
	}

	command := exec.CommandContext(ctx, c.pythonExec, c.scriptPath)
	if c.workingDir != "" {
		command.Dir = c.workingDir
	}
	command.Stdin = bytes.NewReader(encoded)

	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return "", xerrors.Wrap(xerrors.CodeExternalService, err,
			fmt.Sprintf("执行 Python 脚本失败, stderr=%s", strings.TrimSpace(stderr.String())))
	}

	output := strings.TrimSpace(stdout.String())
	var resp struct {
		Completion *string `json:"completion"`
	}
	if err := json.Unmarshal([]byte(output), &resp); err == nil && resp.Completion != nil {
		output = strings.TrimSpace(*resp.Completion)
	}
	if output == "" {
		return "", xerrors.New(xerrors.CodeExternalService, "Python 脚本输出为空")
	}
	return output, nil
}

// ResolveScriptPath 根据工作目录推导脚本绝对路径。
func ResolveScriptPath(baseDir, script string) string {
	if script == "" {
		return ""
	}
	if filepath.IsAbs(script) {
		return script
	}
	if baseDir == "" {
		return script
	}
	return filepath.Join(baseDir, script)
}
