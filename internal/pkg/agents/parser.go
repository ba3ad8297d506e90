package agents

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/careguide/backend/internal/domain"
	"gopkg.in/yaml.v3"
)

// Definitions 专科定义文件
type Definitions struct {
	Version     string   `yaml:"version"`
	BasePrompt  string   `yaml:"basePrompt"`
	Specialists []*Agent `yaml:"specialists"`
}

// Parser 专科定义解析器
type Parser struct {
	maxDescriptionLen int
	// knownCapability 为 nil 时不校验能力名称
	knownCapability func(name string) bool
}

// NewParser 创建解析器
func NewParser(knownCapability func(name string) bool) *Parser {
	return &Parser{
		maxDescriptionLen: 1024,
		knownCapability:   knownCapability,
	}
}

// Parse 解析专科定义并编译各自的提示词模板
func (p *Parser) Parse(content []byte) (*Definitions, error) {
	defs := &Definitions{}
	if err := yaml.Unmarshal(content, defs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if defs.Version == "" {
		return nil, fmt.Errorf("%w: version is required", ErrInvalidConfig)
	}
	if !isValidVersion(defs.Version) {
		return nil, fmt.Errorf("%w: version must be valid semantic version (e.g., v1, v1.0, v1.0.0)", ErrInvalidConfig)
	}
	if strings.TrimSpace(defs.BasePrompt) == "" {
		return nil, fmt.Errorf("%w: basePrompt is required", ErrInvalidConfig)
	}

	for _, agent := range defs.Specialists {
		if err := p.Validate(agent); err != nil {
			return nil, err
		}
		if err := agent.compile(defs.BasePrompt); err != nil {
			return nil, err
		}
	}

	return defs, nil
}

// Validate 校验单个专科定义，并解析出对应的枚举值
func (p *Parser) Validate(agent *Agent) error {
	if agent == nil {
		return fmt.Errorf("%w: empty specialist entry", ErrInvalidConfig)
	}

	// 校验 name
	if agent.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidName)
	}
	kind, ok := domain.ParseSpecialist(agent.Name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrInvalidName, agent.Name)
	}
	agent.Kind = kind

	// 校验 description
	if agent.Description == "" {
		return fmt.Errorf("%w: %s: description is required", ErrInvalidConfig, agent.Name)
	}
	if len(agent.Description) > p.maxDescriptionLen {
		return fmt.Errorf("%w: %s: description exceeds %d characters", ErrInvalidConfig, agent.Name, p.maxDescriptionLen)
	}

	if strings.TrimSpace(agent.Role) == "" {
		return fmt.Errorf("%w: %s: role is required", ErrInvalidConfig, agent.Name)
	}

	// 校验能力
	seen := make(map[string]bool, len(agent.Capabilities))
	for _, c := range agent.Capabilities {
		if seen[c] {
			return fmt.Errorf("%w: %s: duplicate capability %s", ErrInvalidConfig, agent.Name, c)
		}
		seen[c] = true
		if p.knownCapability != nil && !p.knownCapability(c) {
			return fmt.Errorf("%w: %s: unknown capability %s", ErrInvalidConfig, agent.Name, c)
		}
	}

	return nil
}

var versionPattern = regexp.MustCompile(`^v\d+(\.\d+)?(\.\d+)?$`)

// isValidVersion 校验 version 格式（简单语义化版本）
// 支持 v1, v1.0, v1.0.0 格式
func isValidVersion(version string) bool {
	return versionPattern.MatchString(version)
}
