package agents

import (
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/careguide/backend/internal/domain"
)

func knownCaps(names ...string) func(string) bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return func(name string) bool { return set[name] }
}

var defaultCaps = knownCaps(
	"get_medication_guidance", "get_exercise_guidance", "get_diet_guidance",
	"get_transport_guidance", "get_current_appointment", "reschedule_appointment",
)

func TestLoadDefault(t *testing.T) {
	reg, err := LoadDefault(defaultCaps)
	if err != nil {
		t.Fatalf("LoadDefault() error = %v", err)
	}

	list := reg.List()
	if len(list) != len(domain.AllSpecialists()) {
		t.Fatalf("List() returned %d specialists, want %d", len(list), len(domain.AllSpecialists()))
	}
	for i, kind := range domain.AllSpecialists() {
		if list[i].Kind != kind {
			t.Errorf("List()[%d] = %s, want %s", i, list[i].Kind, kind)
		}
		if !reg.Exists(kind) {
			t.Errorf("Exists(%s) = false", kind)
		}
	}

	general, err := reg.Get(domain.GeneralChat)
	if err != nil {
		t.Fatalf("Get(GeneralChat) error = %v", err)
	}
	if len(general.Capabilities) != 0 {
		t.Errorf("GeneralChatAgent should have no capabilities, got %v", general.Capabilities)
	}

	appt, err := reg.Get(domain.Appointment)
	if err != nil {
		t.Fatalf("Get(Appointment) error = %v", err)
	}
	if !slices.Contains(appt.Capabilities, "reschedule_appointment") {
		t.Error("AppointmentAgent should be allowed to reschedule")
	}
	if slices.Contains(appt.Capabilities, "get_diet_guidance") {
		t.Error("AppointmentAgent should not be allowed diet guidance")
	}
}

func TestRegistry_GetUnknown(t *testing.T) {
	reg, err := LoadDefault(nil)
	if err != nil {
		t.Fatalf("LoadDefault() error = %v", err)
	}
	_, err = reg.Get(domain.Specialist(99))
	if !errors.Is(err, ErrSpecialistNotFound) {
		t.Errorf("Get(99) error = %v, want ErrSpecialistNotFound", err)
	}
}

func TestLoad_Invalid(t *testing.T) {
	base := "version: v1\nbasePrompt: hi {{.Name}}\n"

	tests := []struct {
		name    string
		content string
		wantErr error
	}{
		{
			name:    "broken yaml",
			content: "version: [",
			wantErr: ErrInvalidConfig,
		},
		{
			name:    "missing version",
			content: "basePrompt: hi\n",
			wantErr: ErrInvalidConfig,
		},
		{
			name:    "bad version",
			content: "version: one\nbasePrompt: hi\n",
			wantErr: ErrInvalidConfig,
		},
		{
			name:    "missing base prompt",
			content: "version: v1\n",
			wantErr: ErrInvalidConfig,
		},
		{
			name:    "unknown specialist",
			content: base + "specialists:\n  - name: SurgeryAgent\n    description: x\n    role: x\n",
			wantErr: ErrInvalidName,
		},
		{
			name:    "unknown capability",
			content: base + "specialists:\n  - name: DietAgent\n    description: x\n    role: x\n    capabilities: [fly]\n",
			wantErr: ErrInvalidConfig,
		},
		{
			name:    "missing role",
			content: base + "specialists:\n  - name: DietAgent\n    description: x\n",
			wantErr: ErrInvalidConfig,
		},
		{
			name:    "incomplete enum",
			content: base + "specialists:\n  - name: DietAgent\n    description: x\n    role: x\n",
			wantErr: ErrInvalidConfig,
		},
		{
			name:    "bad template",
			content: "version: v1\nbasePrompt: hi {{.Name\nspecialists:\n  - name: DietAgent\n    description: x\n    role: x\n",
			wantErr: ErrInvalidConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load([]byte(tt.content), defaultCaps)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Load() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestRenderSystemPrompt(t *testing.T) {
	reg, err := LoadDefault(defaultCaps)
	if err != nil {
		t.Fatalf("LoadDefault() error = %v", err)
	}

	tests := []struct {
		name        string
		kind        domain.Specialist
		patient     domain.PatientContext
		contains    []string
		notContains []string
	}{
		{
			name:     "diet with full context",
			kind:     domain.Diet,
			patient:  domain.PatientContext{Name: "สมชาย", Disease: "เบาหวาน", AlertLevel: 0.2, AppointmentDate: "2026-11-01", CardioRisk: true},
			contains: []string{"สมชาย", "เบาหวาน", "0.2", "2026-11-01", "โรคหัวใจและหลอดเลือด", "อาหารการกิน", "ต้องจบประโยคด้วยคำถามกลับเสมอ"},
		},
		{
			name:        "defaults when context is empty",
			kind:        domain.GeneralChat,
			patient:     domain.PatientContext{},
			contains:    []string{domain.DefaultPatientName, domain.DefaultDisease, "พูดคุยทั่วไป"},
			notContains: []string{"วันนัดพบแพทย์ปัจจุบัน", "ความเสี่ยงร่วม"},
		},
		{
			name:     "appointment rules",
			kind:     domain.Appointment,
			patient:  domain.PatientContext{Name: "สมหญิง", Disease: "ไทฟอยด์"},
			contains: []string{"ห้ามเลื่อนนัดถ้าคนไข้ยังไม่ได้บอกวันที่", "NO_DATE_PROVIDED"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agent, err := reg.Get(tt.kind)
			if err != nil {
				t.Fatalf("Get(%s) error = %v", tt.kind, err)
			}
			prompt, err := agent.RenderSystemPrompt(tt.patient)
			if err != nil {
				t.Fatalf("RenderSystemPrompt() error = %v", err)
			}
			for _, s := range tt.contains {
				if !strings.Contains(prompt, s) {
					t.Errorf("prompt missing %q:\n%s", s, prompt)
				}
			}
			for _, s := range tt.notContains {
				if strings.Contains(prompt, s) {
					t.Errorf("prompt should not contain %q:\n%s", s, prompt)
				}
			}
		})
	}
}

func TestRenderSystemPrompt_NotCompiled(t *testing.T) {
	agent := &Agent{Name: "DietAgent"}
	if _, err := agent.RenderSystemPrompt(domain.PatientContext{}); !errors.Is(err, ErrRenderFailed) {
		t.Errorf("RenderSystemPrompt() error = %v, want ErrRenderFailed", err)
	}
}
