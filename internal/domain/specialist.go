package domain

// Specialist 专科 Agent 枚举，路由输出空间是一个封闭集合
type Specialist int

const (
	Medication Specialist = iota + 1
	Exercise
	Diet
	Transport
	Appointment
	GeneralChat
)

var specialistNames = map[Specialist]string{
	Medication:  "MedicationAgent",
	Exercise:    "ExerciseAgent",
	Diet:        "DietAgent",
	Transport:   "TransportAgent",
	Appointment: "AppointmentAgent",
	GeneralChat: "GeneralChatAgent",
}

// AllSpecialists 按固定顺序返回全部专科
func AllSpecialists() []Specialist {
	return []Specialist{Medication, Exercise, Diet, Transport, Appointment, GeneralChat}
}

func (s Specialist) String() string {
	if name, ok := specialistNames[s]; ok {
		return name
	}
	return "UnknownAgent"
}

// Valid 是否为已知专科
func (s Specialist) Valid() bool {
	_, ok := specialistNames[s]
	return ok
}

// ParseSpecialist 按名称解析专科
func ParseSpecialist(name string) (Specialist, bool) {
	for s, n := range specialistNames {
		if n == name {
			return s, true
		}
	}
	return 0, false
}
