package capabilities

import (
	"errors"
	"fmt"

	"github.com/cloudwego/eino/components/tool"
)

var (
	// ErrUnknownCapability 能力未注册
	ErrUnknownCapability = errors.New("unknown capability")
	// ErrCapabilityUnavailable 能力已注册，但缺少运行所需的依赖
	ErrCapabilityUnavailable = errors.New("capability unavailable")
)

// Catalog 全部能力的工厂，进程启动时构造一次
type Catalog struct {
	knowledge *Knowledge
	book      AppointmentBook
}

// NewCatalog 创建能力目录
func NewCatalog(knowledge *Knowledge, book AppointmentBook) *Catalog {
	return &Catalog{knowledge: knowledge, book: book}
}

// Names 已知能力名称
func (c *Catalog) Names() []string {
	return []string{ToolMedication, ToolExercise, ToolDiet, ToolTransport, ToolCurrentAppointment, ToolRescheduleAppointment}
}

// Has 是否为已知能力
func (c *Catalog) Has(name string) bool {
	for _, n := range c.Names() {
		if n == name {
			return true
		}
	}
	return false
}

// Build 按名称为本轮对话构造能力实例
func (c *Catalog) Build(name string, b Binding) (tool.InvokableTool, error) {
	disease := b.Patient.Disease
	switch name {
	case ToolMedication:
		return c.guidance(name, "Medication guidance for the patient's disease (drugs, dosage, side effects)", DomainMedication, disease), nil
	case ToolExercise:
		return c.guidance(name, "Exercise and rest guidance for the patient's disease", DomainExercise, disease), nil
	case ToolDiet:
		return c.guidance(name, "Diet and food guidance for the patient's disease", DomainDiet, disease), nil
	case ToolTransport:
		return c.guidance(name, "Travel, driving and flying guidance for the patient's disease", DomainTransport, disease), nil
	case ToolCurrentAppointment:
		return &CurrentAppointmentTool{appointmentDate: b.Patient.AppointmentDate}, nil
	case ToolRescheduleAppointment:
		if c.book == nil {
			return nil, fmt.Errorf("%w: %s has no appointment book", ErrCapabilityUnavailable, name)
		}
		return &RescheduleTool{book: c.book, binding: b}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownCapability, name)
}

func (c *Catalog) guidance(name, desc string, domain Domain, disease string) *GuidanceTool {
	return &GuidanceTool{
		name:      name,
		desc:      desc,
		domain:    domain,
		disease:   disease,
		knowledge: c.knowledge,
	}
}
