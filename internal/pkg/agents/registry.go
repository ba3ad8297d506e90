package agents

import (
	_ "embed"
	"fmt"

	"github.com/careguide/backend/internal/domain"
	"k8s.io/klog/v2"
)

//go:embed specialists.yaml
var specialistsYAML []byte

// Registry 专科注册中心接口，构造完成后只读
type Registry interface {
	// Get 获取指定专科
	Get(kind domain.Specialist) (*Agent, error)

	// List 按枚举顺序列出所有专科
	List() []*Agent

	// Exists 检查专科是否存在
	Exists(kind domain.Specialist) bool
}

// registry Registry 的实现
type registry struct {
	agents map[domain.Specialist]*Agent
}

// NewRegistry 从定义构造注册中心
// 每个枚举值必须恰好定义一次
func NewRegistry(defs *Definitions) (Registry, error) {
	if defs == nil {
		return nil, fmt.Errorf("%w: definitions cannot be nil", ErrInvalidConfig)
	}

	r := &registry{agents: make(map[domain.Specialist]*Agent, len(defs.Specialists))}
	for _, agent := range defs.Specialists {
		if _, exists := r.agents[agent.Kind]; exists {
			return nil, fmt.Errorf("%w: %s defined twice", ErrInvalidConfig, agent.Name)
		}
		r.agents[agent.Kind] = agent
	}

	for _, kind := range domain.AllSpecialists() {
		if _, exists := r.agents[kind]; !exists {
			return nil, fmt.Errorf("%w: %s is not defined", ErrInvalidConfig, kind)
		}
	}

	klog.V(6).Infof("[Registry] 已加载 %d 个专科 (version=%s)", len(r.agents), defs.Version)
	return r, nil
}

// Load 解析 YAML 并构造注册中心
func Load(content []byte, knownCapability func(name string) bool) (Registry, error) {
	defs, err := NewParser(knownCapability).Parse(content)
	if err != nil {
		return nil, err
	}
	return NewRegistry(defs)
}

// LoadDefault 使用内置的专科定义
func LoadDefault(knownCapability func(name string) bool) (Registry, error) {
	return Load(specialistsYAML, knownCapability)
}

// Get 获取指定专科
func (r *registry) Get(kind domain.Specialist) (*Agent, error) {
	agent, exists := r.agents[kind]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrSpecialistNotFound, kind)
	}
	return agent, nil
}

// List 按枚举顺序列出所有专科
func (r *registry) List() []*Agent {
	result := make([]*Agent, 0, len(r.agents))
	for _, kind := range domain.AllSpecialists() {
		if agent, ok := r.agents[kind]; ok {
			result = append(result, agent)
		}
	}
	return result
}

// Exists 检查专科是否存在
func (r *registry) Exists(kind domain.Specialist) bool {
	_, exists := r.agents[kind]
	return exists
}
