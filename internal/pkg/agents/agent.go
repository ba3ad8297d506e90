package agents

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"text/template"

	"github.com/careguide/backend/internal/domain"
)

// Agent 专科 Agent 定义
type Agent struct {
	// 元数据
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`

	// Role 追加在基础模板之后的职责说明
	Role string `yaml:"role" json:"role"`

	// Rules 该专科额外的约束
	Rules string `yaml:"rules" json:"rules,omitempty"`

	// Capabilities 可调用的能力名称
	Capabilities []string `yaml:"capabilities" json:"capabilities"`

	Kind domain.Specialist `yaml:"-" json:"-"`

	prompt *template.Template
}

// promptData 模板渲染参数
type promptData struct {
	Name            string
	Disease         string
	AlertLevel      string
	AppointmentDate string
	Comorbidities   []string
}

// RenderSystemPrompt 用患者快照渲染系统提示词
func (a *Agent) RenderSystemPrompt(p domain.PatientContext) (string, error) {
	if a.prompt == nil {
		return "", fmt.Errorf("%w: %s has no template", ErrRenderFailed, a.Name)
	}

	var buf bytes.Buffer
	if err := a.prompt.Execute(&buf, newPromptData(p)); err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrRenderFailed, a.Name, err)
	}
	return buf.String(), nil
}

func newPromptData(p domain.PatientContext) promptData {
	data := promptData{
		Name:            p.Name,
		Disease:         p.DiseaseOrDefault(),
		AlertLevel:      strconv.FormatFloat(p.AlertLevel, 'f', -1, 64),
		AppointmentDate: p.AppointmentDate,
	}
	if data.Name == "" {
		data.Name = domain.DefaultPatientName
	}
	if p.CardioRisk {
		data.Comorbidities = append(data.Comorbidities, "โรคหัวใจและหลอดเลือด")
	}
	if p.RespiratoryRisk {
		data.Comorbidities = append(data.Comorbidities, "ระบบทางเดินหายใจ")
	}
	if p.InfectiousRisk {
		data.Comorbidities = append(data.Comorbidities, "โรคติดเชื้อ")
	}
	return data
}

// compile 将基础模板与职责、规则拼接后编译
func (a *Agent) compile(base string) error {
	var sb strings.Builder
	sb.WriteString(base)
	sb.WriteString("\n")
	sb.WriteString(a.Role)
	if a.Rules != "" {
		sb.WriteString("\n\n")
		sb.WriteString(a.Rules)
	}

	tmpl, err := template.New(a.Name).
		Option("missingkey=error").
		Funcs(template.FuncMap{"join": strings.Join}).
		Parse(sb.String())
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, a.Name, err)
	}
	a.prompt = tmpl
	return nil
}
