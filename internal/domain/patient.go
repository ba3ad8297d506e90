package domain

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	DefaultPatientName = "คุณ"
	DefaultDisease     = "โรคประจำตัว"
)

// PatientContext 调用方提供的患者上下文快照
// 每次请求构造一次，轮内所有节点只读
type PatientContext struct {
	Name            string  `json:"name"`
	Disease         string  `json:"disease"`
	AppointmentDate string  `json:"appointment_date,omitempty"`
	IsAlert         bool    `json:"is_alert"`
	AlertLevel      float64 `json:"alert_level"`
	// AlertLevelValid 为 false 表示调用方提供了无法解析的风险值
	AlertLevelValid bool `json:"alert_level_valid"`
	CardioRisk      bool `json:"cardio_risk"`
	RespiratoryRisk bool `json:"respiratory_risk"`
	InfectiousRisk  bool `json:"infectious_risk"`
}

// ParsePatientContext 从调用方的 map 构造快照，不会失败
// 同时接受 snake_case 与 camelCase 键名
func ParsePatientContext(raw map[string]any) PatientContext {
	pc := PatientContext{
		Name:            DefaultPatientName,
		AlertLevelValid: true,
	}
	if raw == nil {
		return pc
	}

	if v, ok := lookup(raw, "name", "user_name", "userName"); ok {
		if s := strings.TrimSpace(fmt.Sprint(v)); s != "" {
			pc.Name = s
		}
	}
	if v, ok := lookup(raw, "disease"); ok {
		pc.Disease = strings.TrimSpace(fmt.Sprint(v))
	}
	if v, ok := lookup(raw, "appointment_date", "appointmentDate", "appointment"); ok {
		pc.AppointmentDate = strings.TrimSpace(fmt.Sprint(v))
	}
	if v, ok := lookup(raw, "is_alert", "isAlert"); ok {
		pc.IsAlert = parseFlag(v)
	}
	if v, ok := lookup(raw, "alert_level", "alertLevel"); ok {
		pc.AlertLevel, pc.AlertLevelValid = parseLevel(v)
	}
	if v, ok := lookup(raw, "cardio_risk", "cardioRisk", "is_cardio"); ok {
		pc.CardioRisk = parseFlag(v)
	}
	if v, ok := lookup(raw, "respiratory_risk", "respiratoryRisk", "is_respiratory"); ok {
		pc.RespiratoryRisk = parseFlag(v)
	}
	if v, ok := lookup(raw, "infectious_risk", "infectiousRisk", "is_infectious"); ok {
		pc.InfectiousRisk = parseFlag(v)
	}
	return pc
}

// DiseaseOrDefault 返回病名，缺省时返回通用描述
func (p PatientContext) DiseaseOrDefault() string {
	if p.Disease == "" {
		return DefaultDisease
	}
	return p.Disease
}

func lookup(raw map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := raw[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func parseFlag(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	case int:
		return t != 0
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "positive", "yes", "y", "1":
			return true
		}
	}
	return false
}

// parseLevel 解析风险值，失败返回 (0, false)
func parseLevel(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0, true
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	}
	return 0, false
}
