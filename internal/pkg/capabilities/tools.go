package capabilities

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/careguide/backend/internal/domain"
	"github.com/careguide/backend/internal/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"k8s.io/klog/v2"
)

// 能力名称
const (
	ToolMedication            = "get_medication_guidance"
	ToolExercise              = "get_exercise_guidance"
	ToolDiet                  = "get_diet_guidance"
	ToolTransport             = "get_transport_guidance"
	ToolCurrentAppointment    = "get_current_appointment"
	ToolRescheduleAppointment = "reschedule_appointment"
)

// RescheduleRefusal 未提供日期时改期能力返回给模型的提示
const RescheduleRefusal = "NO_DATE_PROVIDED: the patient has not said which date they want. Do not reschedule. Ask the patient, gently, which date they would like."

// RescheduleMismatch 改期日期与用户说过的日期不一致时返回给模型的提示
const RescheduleMismatch = "DATE_MISMATCH: new_date is not a date the patient stated in this conversation turn. Do not reschedule. Use the date exactly as the patient said it, or ask the patient to confirm the date."

// Binding 一轮对话内能力调用所需的上下文
type Binding struct {
	ThreadID string
	Patient  domain.PatientContext
	// Turn 本轮消息，从本轮用户消息开始
	Turn []domain.Message
}

type queryArgs struct {
	Query string `json:"query"`
}

// GuidanceTool 按患者病种查询领域参考资料
type GuidanceTool struct {
	name      string
	desc      string
	domain    Domain
	disease   string
	knowledge *Knowledge
}

func (t *GuidanceTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: t.name,
		Desc: t.desc,
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"query": {
				Type:     schema.String,
				Desc:     "The patient's question in their own words",
				Required: true,
			},
		}),
	}, nil
}

// InvokableRun 查询参考资料
// 注意: 工具调用的输入输出日志由回调处理，此处仅记录业务相关日志
func (t *GuidanceTool) InvokableRun(ctx context.Context, arguments string, opts ...tool.Option) (string, error) {
	var args queryArgs
	if strings.TrimSpace(arguments) != "" {
		if err := json.Unmarshal([]byte(arguments), &args); err != nil {
			return "", fmt.Errorf("invalid arguments: %w", err)
		}
	}
	klog.V(6).Infof("[%s] 查询: disease=%s, query=%s", t.name, t.disease, args.Query)
	return t.knowledge.Lookup(t.domain, t.disease)
}

// CurrentAppointmentTool 返回患者当前的预约日期
type CurrentAppointmentTool struct {
	appointmentDate string
}

func (t *CurrentAppointmentTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: ToolCurrentAppointment,
		Desc: "Return the patient's currently booked appointment date",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"query": {Type: schema.String, Desc: "Optional free text"},
		}),
	}, nil
}

func (t *CurrentAppointmentTool) InvokableRun(ctx context.Context, arguments string, opts ...tool.Option) (string, error) {
	if t.appointmentDate == "" {
		return "ยังไม่มีข้อมูลวันนัดในระบบ", nil
	}
	return "วันนัดปัจจุบัน: " + t.appointmentDate, nil
}

// AppointmentBook 记录改期请求
type AppointmentBook interface {
	Create(ctx context.Context, change *model.AppointmentChange) error
}

// RescheduleTool 改期能力
// 只有用户在对话中明确给出日期时才会写入改期记录
type RescheduleTool struct {
	book    AppointmentBook
	binding Binding
}

type rescheduleArgs struct {
	NewDate string `json:"new_date"`
	Reason  string `json:"reason"`
}

func (t *RescheduleTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: ToolRescheduleAppointment,
		Desc: "Move the patient's appointment to a new date. Only call this when the patient has explicitly said the date they want.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"new_date": {
				Type:     schema.String,
				Desc:     "The new date exactly as the patient stated it",
				Required: true,
			},
			"reason": {Type: schema.String, Desc: "Why the patient wants to move the appointment"},
		}),
	}, nil
}

func (t *RescheduleTool) InvokableRun(ctx context.Context, arguments string, opts ...tool.Option) (string, error) {
	var args rescheduleArgs
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}

	if strings.TrimSpace(args.NewDate) == "" || !UserSuppliedDate(t.binding.Turn) {
		klog.Warningf("[RescheduleTool] 用户未提供日期，拒绝改期: thread=%s, new_date=%q", t.binding.ThreadID, args.NewDate)
		return RescheduleRefusal, nil
	}
	if !ConfirmsUserDate(args.NewDate, t.binding.Turn) {
		klog.Warningf("[RescheduleTool] 改期日期不是用户给出的日期，拒绝改期: thread=%s, new_date=%q", t.binding.ThreadID, args.NewDate)
		return RescheduleMismatch, nil
	}

	change := &model.AppointmentChange{
		ThreadID:    t.binding.ThreadID,
		PatientName: t.binding.Patient.Name,
		Disease:     t.binding.Patient.Disease,
		FromDate:    t.binding.Patient.AppointmentDate,
		ToDate:      strings.TrimSpace(args.NewDate),
		Reason:      args.Reason,
	}
	if err := t.book.Create(ctx, change); err != nil {
		return "", fmt.Errorf("record reschedule: %w", err)
	}

	klog.V(6).Infof("[RescheduleTool] 改期成功: thread=%s, %s -> %s", t.binding.ThreadID, change.FromDate, change.ToDate)
	return fmt.Sprintf("เลื่อนนัดเรียบร้อยแล้ว: จาก %s เป็น %s", orUnknown(change.FromDate), change.ToDate), nil
}

func orUnknown(s string) string {
	if s == "" {
		return "(ไม่ระบุ)"
	}
	return s
}
