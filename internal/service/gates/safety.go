package gates

import (
	"fmt"
	"strconv"

	"github.com/careguide/backend/config"
	"github.com/careguide/backend/internal/domain"
	"k8s.io/klog/v2"
)

// DefaultAlertThreshold 风险值超过该阈值即中断
const DefaultAlertThreshold = 0.4

const safetyHaltTemplate = "🚨 **แจ้งเตือนความปลอดภัย:** ระบบตรวจพบความเสี่ยงอาการกำเริบ (ระดับความเสี่ยง: %s)\n" +
	"กรุณาไปพบแพทย์โดยด่วน ทางเราได้ดำเนินการเลื่อนนัดให้แล้ว"

// SafetyVerdict 安全闸门的判定结果
type SafetyVerdict struct {
	Halt    bool
	Level   float64
	Reason  string
	Message string
}

// SafetyGate 根据患者上下文中的风险标记决定是否中断本轮
// 不调用模型，也不会调用任何专科
type SafetyGate struct {
	threshold  float64
	failClosed bool
}

// NewSafetyGate 创建安全闸门
func NewSafetyGate(cfg config.SafetyConfig) *SafetyGate {
	threshold := cfg.AlertThreshold
	if threshold <= 0 {
		threshold = DefaultAlertThreshold
	}
	return &SafetyGate{threshold: threshold, failClosed: cfg.FailClosed}
}

// Evaluate 判定是否中断
func (g *SafetyGate) Evaluate(p domain.PatientContext) SafetyVerdict {
	v := SafetyVerdict{Level: p.AlertLevel}

	switch {
	case p.IsAlert:
		v.Halt, v.Reason = true, "is_alert"
	case p.AlertLevel > g.threshold:
		v.Halt, v.Reason = true, "alert_level"
	case !p.AlertLevelValid && g.failClosed:
		v.Halt, v.Reason = true, "alert_level_unparsable"
	}

	if !p.AlertLevelValid {
		klog.Warningf("[SafetyGate] 风险值无法解析，按 %.1f 处理 (fail_closed=%v)", p.AlertLevel, g.failClosed)
	}

	if v.Halt {
		v.Message = fmt.Sprintf(safetyHaltTemplate, formatLevel(p))
		klog.V(6).Infof("[SafetyGate] 中断: reason=%s, level=%v", v.Reason, p.AlertLevel)
	}
	return v
}

// Threshold 当前阈值
func (g *SafetyGate) Threshold() float64 {
	return g.threshold
}

func formatLevel(p domain.PatientContext) string {
	if !p.AlertLevelValid {
		return "ไม่ทราบ"
	}
	return strconv.FormatFloat(p.AlertLevel, 'f', -1, 64)
}
