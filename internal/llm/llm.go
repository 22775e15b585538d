package llm

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
)

// Client 定义了调用大模型的统一接口：给定提示词，返回完整的文本输出。
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// ClientFunc 允许普通函数实现 Client。
type ClientFunc func(ctx context.Context, prompt string) (string, error)

// Complete 实现 Client。
func (f ClientFunc) Complete(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// Result 是模型输出解析后的带标签结果：要么解析成功 (Parsed)，要么保留原始文本 (Malformed)。
type Result[T any] struct {
	value  T
	raw    string
	parsed bool
	reason string
}

// Parsed 构造解析成功的结果。
func Parsed[T any](value T, raw string) Result[T] {
	return Result[T]{value: value, raw: raw, parsed: true}
}

// Malformed 构造解析失败的结果。
func Malformed[T any](raw, reason string) Result[T] {
	return Result[T]{raw: raw, reason: reason}
}

// Get 返回解析值以及是否解析成功。
func (r Result[T]) Get() (T, bool) {
	return r.value, r.parsed
}

// IsParsed 判断是否解析成功。
func (r Result[T]) IsParsed() bool {
	return r.parsed
}

// Raw 返回模型原始输出。
func (r Result[T]) Raw() string {
	return r.raw
}

// Reason 返回解析失败原因。
func (r Result[T]) Reason() string {
	return r.reason
}

var (
	fencedJSON    = regexp.MustCompile("(?s)```json\\s*(.*?)\\s*```")
	fencedGeneric = regexp.MustCompile("(?s)```\\s*(.*?)\\s*```")
	bareObject    = regexp.MustCompile(`(?s)\{.*\}`)
)

type decodeOptions struct {
	bareObject bool
}

// DecodeOption 调整 JSON 提取策略。
type DecodeOption func(*decodeOptions)

// WithBareObjectFallback 在没有代码块时额外尝试提取首尾花括号之间的内容。
func WithBareObjectFallback() DecodeOption {
	return func(o *decodeOptions) {
		o.bareObject = true
	}
}

// ExtractJSON 从模型输出中提取 JSON 文本：优先 ```json 代码块，其次通用代码块，否则使用全文。
func ExtractJSON(raw string, opts ...DecodeOption) string {
	options := decodeOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	if m := fencedJSON.FindStringSubmatch(raw); m != nil {
		return strings.TrimSpace(m[1])
	}
	if m := fencedGeneric.FindStringSubmatch(raw); m != nil {
		return strings.TrimSpace(m[1])
	}
	if options.bareObject {
		if m := bareObject.FindString(raw); m != "" {
			return m
		}
	}
	return strings.TrimSpace(raw)
}

// DecodeJSON 提取并解析模型输出，失败时返回 Malformed。
func DecodeJSON[T any](raw string, opts ...DecodeOption) Result[T] {
	candidate := ExtractJSON(raw, opts...)
	if candidate == "" {
		return Malformed[T](raw, "empty output")
	}
	var value T
	if err := json.Unmarshal([]byte(candidate), &value); err != nil {
		return Malformed[T](raw, err.Error())
	}
	return Parsed(value, raw)
}
