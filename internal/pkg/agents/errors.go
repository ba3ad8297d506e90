package agents

import "errors"

// 预定义错误
var (
	// ErrSpecialistNotFound 专科 Agent 不存在
	ErrSpecialistNotFound = errors.New("specialist not found")

	// ErrInvalidConfig 配置无效
	ErrInvalidConfig = errors.New("invalid specialist config")

	// ErrInvalidName name 不是已知专科
	ErrInvalidName = errors.New("invalid specialist name")

	// ErrRenderFailed 系统提示词渲染失败
	ErrRenderFailed = errors.New("failed to render system prompt")
)
