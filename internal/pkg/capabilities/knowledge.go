package capabilities

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed knowledge.yaml
var knowledgeYAML []byte

// Domain 能力所属的专科领域
type Domain string

const (
	DomainMedication Domain = "medication"
	DomainExercise   Domain = "exercise"
	DomainDiet       Domain = "diet"
	DomainTransport  Domain = "transport"
)

const defaultKey = "default"

type diseaseEntry struct {
	Key     string   `yaml:"key"`
	Aliases []string `yaml:"aliases"`
}

type knowledgeFile struct {
	Diseases []diseaseEntry                `yaml:"diseases"`
	Guidance map[Domain]map[string]string `yaml:"guidance"`
}

// Knowledge 按病种区分的参考资料，加载后只读
type Knowledge struct {
	aliases  map[string]string // 规范化别名 -> 病种 key
	guidance map[Domain]map[string]string
}

// LoadKnowledge 解析知识库 YAML，每个领域必须提供 default 文本
func LoadKnowledge(data []byte) (*Knowledge, error) {
	var file knowledgeFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse knowledge: %w", err)
	}

	k := &Knowledge{
		aliases:  make(map[string]string),
		guidance: file.Guidance,
	}
	for _, d := range file.Diseases {
		k.aliases[normalize(d.Key)] = d.Key
		for _, a := range d.Aliases {
			k.aliases[normalize(a)] = d.Key
		}
	}
	for domain, texts := range file.Guidance {
		if texts[defaultKey] == "" {
			return nil, fmt.Errorf("knowledge domain %s has no default text", domain)
		}
	}
	return k, nil
}

// DefaultKnowledge 内置知识库
func DefaultKnowledge() (*Knowledge, error) {
	return LoadKnowledge(knowledgeYAML)
}

// DiseaseKey 将病名解析为病种 key，未知返回空
func (k *Knowledge) DiseaseKey(disease string) string {
	return k.aliases[normalize(disease)]
}

// Lookup 查询领域内该病种的参考资料，未知病种返回 default 文本
func (k *Knowledge) Lookup(domain Domain, disease string) (string, error) {
	texts, ok := k.guidance[domain]
	if !ok {
		return "", fmt.Errorf("unknown knowledge domain: %s", domain)
	}
	if text, ok := texts[k.DiseaseKey(disease)]; ok && text != "" {
		return text, nil
	}
	return texts[defaultKey], nil
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
