package capabilities

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/careguide/backend/internal/domain"
	"github.com/careguide/backend/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingBook struct {
	changes []*model.AppointmentChange
	err     error
}

func (b *recordingBook) Create(ctx context.Context, change *model.AppointmentChange) error {
	if b.err != nil {
		return b.err
	}
	b.changes = append(b.changes, change)
	return nil
}

func newTestCatalog(t *testing.T, book AppointmentBook) *Catalog {
	t.Helper()
	k, err := DefaultKnowledge()
	require.NoError(t, err)
	return NewCatalog(k, book)
}

func TestKnowledgeLookup(t *testing.T) {
	k, err := DefaultKnowledge()
	require.NoError(t, err)

	text, err := k.Lookup(DomainDiet, "ไทฟอยด์")
	require.NoError(t, err)
	assert.Contains(t, text, "สุก ร้อน สะอาด")

	text, err = k.Lookup(DomainMedication, " Diabetes ")
	require.NoError(t, err)
	assert.Contains(t, text, "Metformin")

	text, err = k.Lookup(DomainExercise, "โรคหัวใจ")
	require.NoError(t, err)
	assert.Contains(t, text, "ไม่มีข้อมูลการออกกำลังกายเฉพาะ")

	_, err = k.Lookup(Domain("surgery"), "เบาหวาน")
	assert.Error(t, err)
}

func TestLoadKnowledgeRequiresDefault(t *testing.T) {
	_, err := LoadKnowledge([]byte("guidance:\n  diet:\n    diabetes: x\n"))
	assert.Error(t, err)

	_, err = LoadKnowledge([]byte("guidance: ["))
	assert.Error(t, err)
}

func TestMentionsDate(t *testing.T) {
	cases := map[string]bool{
		"ขอเลื่อนนัดเป็นวันศุกร์หน้าได้ไหม":   true,
		"ขอเลื่อนเป็น 2026-11-02":              true,
		"ขอเลื่อนเป็นวันที่ 15":                 true,
		"เลื่อนไปวันที่ 12/11 ได้ไหมครับ":        true,
		"เลื่อนไป 12/11/2026 ได้ไหมครับ":        true,
		"can we move it to next Monday?":      true,
		"ขอเลื่อนนัดหน่อยครับ":                  false,
		"หมอครับ ช่วงนี้ปวดหัว":                 false,
		"ค่าน้ำตาล 7.5 ครับ ช่วยเลื่อนนัดหน่อย": false,
		"ทานยา 0.5 เม็ด":                       false,
		"ความดัน 12/8 ครับ":                    false,
		"":                                    false,
	}
	for text, want := range cases {
		assert.Equal(t, want, MentionsDate(text), text)
	}
}

func TestUserSuppliedDateIgnoresAssistant(t *testing.T) {
	history := []domain.Message{
		domain.UserMessage("ขอเลื่อนนัดหน่อยครับ"),
		domain.AssistantMessage("AppointmentAgent", "สะดวกวันศุกร์ไหมครับ"),
	}
	assert.False(t, UserSuppliedDate(history))

	history = append(history, domain.UserMessage("วันศุกร์ครับ"))
	assert.True(t, UserSuppliedDate(history))
}

func TestGuidanceToolUsesPatientDisease(t *testing.T) {
	c := newTestCatalog(t, nil)
	ctx := context.Background()

	tl, err := c.Build(ToolDiet, Binding{Patient: domain.PatientContext{Disease: "เบาหวาน"}})
	require.NoError(t, err)

	info, err := tl.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, ToolDiet, info.Name)

	out, err := tl.InvokableRun(ctx, `{"query":"กินอะไรได้บ้าง"}`)
	require.NoError(t, err)
	assert.Contains(t, out, "ข้าวกล้อง")

	_, err = tl.InvokableRun(ctx, `not json`)
	assert.Error(t, err)
}

func TestCatalogUnknownCapability(t *testing.T) {
	c := newTestCatalog(t, nil)
	_, err := c.Build("launch_rocket", Binding{})
	assert.True(t, errors.Is(err, ErrUnknownCapability))
	assert.False(t, c.Has("launch_rocket"))
	assert.True(t, c.Has(ToolTransport))

	_, err = c.Build(ToolRescheduleAppointment, Binding{})
	assert.True(t, errors.Is(err, ErrCapabilityUnavailable))
}

func TestCurrentAppointmentTool(t *testing.T) {
	c := newTestCatalog(t, nil)
	ctx := context.Background()

	tl, err := c.Build(ToolCurrentAppointment, Binding{Patient: domain.PatientContext{AppointmentDate: "2026-11-01"}})
	require.NoError(t, err)
	out, err := tl.InvokableRun(ctx, `{}`)
	require.NoError(t, err)
	assert.Contains(t, out, "2026-11-01")

	tl, err = c.Build(ToolCurrentAppointment, Binding{})
	require.NoError(t, err)
	out, err = tl.InvokableRun(ctx, ``)
	require.NoError(t, err)
	assert.Contains(t, out, "ยังไม่มีข้อมูลวันนัด")
}

func TestRescheduleRefusesWithoutUserDate(t *testing.T) {
	book := &recordingBook{}
	c := newTestCatalog(t, book)

	tl, err := c.Build(ToolRescheduleAppointment, Binding{
		ThreadID: "t1",
		Patient:  domain.PatientContext{Name: "สมชาย", Disease: "เบาหวาน", AppointmentDate: "2026-11-01"},
		Turn:     []domain.Message{domain.UserMessage("ขอเลื่อนนัดหน่อยครับ")},
	})
	require.NoError(t, err)

	out, err := tl.InvokableRun(context.Background(), `{"new_date":"2026-11-08","reason":"ติดธุระ"}`)
	require.NoError(t, err)
	assert.Equal(t, RescheduleRefusal, out)
	assert.Empty(t, book.changes)
}

func TestRescheduleRecordsChange(t *testing.T) {
	book := &recordingBook{}
	c := newTestCatalog(t, book)

	tl, err := c.Build(ToolRescheduleAppointment, Binding{
		ThreadID: "t1",
		Patient:  domain.PatientContext{Name: "สมชาย", Disease: "เบาหวาน", AppointmentDate: "2026-11-01"},
		Turn:     []domain.Message{domain.UserMessage("ขอเลื่อนนัดเป็นวันศุกร์หน้าครับ")},
	})
	require.NoError(t, err)

	out, err := tl.InvokableRun(context.Background(), `{"new_date":"วันศุกร์หน้า","reason":"ติดธุระ"}`)
	require.NoError(t, err)
	assert.Contains(t, out, "เลื่อนนัดเรียบร้อยแล้ว")
	require.Len(t, book.changes, 1)
	assert.Equal(t, "t1", book.changes[0].ThreadID)
	assert.Equal(t, "2026-11-01", book.changes[0].FromDate)
	assert.Equal(t, "วันศุกร์หน้า", book.changes[0].ToDate)

	// 空日期同样拒绝
	out, err = tl.InvokableRun(context.Background(), `{"new_date":"  "}`)
	require.NoError(t, err)
	assert.Equal(t, RescheduleRefusal, out)
	assert.Len(t, book.changes, 1)
}

func TestRescheduleBookFailure(t *testing.T) {
	book := &recordingBook{err: errors.New("db down")}
	c := newTestCatalog(t, book)

	tl, err := c.Build(ToolRescheduleAppointment, Binding{
		Turn: []domain.Message{domain.UserMessage("เลื่อนเป็น 2026-11-08")},
	})
	require.NoError(t, err)
	_, err = tl.InvokableRun(context.Background(), `{"new_date":"2026-11-08"}`)
	assert.Error(t, err)
}

func TestConfirmsUserDate(t *testing.T) {
	now := domain.Now
	domain.Now = func() time.Time { return time.Date(2026, 10, 16, 9, 0, 0, 0, time.Local) }
	t.Cleanup(func() { domain.Now = now })

	tests := []struct {
		name    string
		history []domain.Message
		newDate string
		want    bool
	}{
		{"thai day and month", []domain.Message{domain.UserMessage("ขอเลื่อนเป็นวันที่ 9 พฤศจิกายน")}, "2026-11-09", true},
		{"different day", []domain.Message{domain.UserMessage("ขอเลื่อนเป็นวันที่ 9 พฤศจิกายน")}, "2026-11-10", false},
		{"literal iso", []domain.Message{domain.UserMessage("เลื่อนเป็น 2026-11-08")}, "2026-11-08", true},
		{"buddhist year", []domain.Message{domain.UserMessage("วันที่ 15/12/2569 ครับ")}, "2026-12-15", true},
		{"english month", []domain.Message{domain.UserMessage("Can we move it to November 9?")}, "2026-11-09", true},
		{"weekday words", []domain.Message{domain.UserMessage("ขอเลื่อนนัดเป็นวันศุกร์หน้าครับ")}, "วันศุกร์หน้า", true},
		{"weekday resolved by model", []domain.Message{domain.UserMessage("ขอเลื่อนนัดเป็นวันศุกร์หน้าครับ")}, "2026-10-23", false},
		{"tomorrow", []domain.Message{domain.UserMessage("ขอเลื่อนเป็นพรุ่งนี้ได้ไหม")}, "2026-10-17", true},
		{"reading is not a date", []domain.Message{domain.UserMessage("ค่าน้ำตาล 7.5 ครับ")}, "2026-05-07", false},
		{"assistant date ignored", []domain.Message{
			domain.UserMessage("ขอเลื่อนนัดครับ"),
			domain.AssistantMessage("AppointmentAgent", "วันที่ 9 พฤศจิกายน สะดวกไหมครับ?"),
		}, "2026-11-09", false},
		{"empty", []domain.Message{domain.UserMessage("วันที่ 9")}, " ", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ConfirmsUserDate(tt.newDate, tt.history))
		})
	}
}

func TestRescheduleIgnoresReadingsAndDoses(t *testing.T) {
	book := &recordingBook{}
	c := newTestCatalog(t, book)

	tl, err := c.Build(ToolRescheduleAppointment, Binding{
		ThreadID: "t1",
		Turn:     []domain.Message{domain.UserMessage("ค่าน้ำตาล 7.5 ครับ ช่วยเลื่อนนัดหน่อย")},
	})
	require.NoError(t, err)

	out, err := tl.InvokableRun(context.Background(), `{"new_date":"2026-10-20"}`)
	require.NoError(t, err)
	assert.Equal(t, RescheduleRefusal, out)
	assert.Empty(t, book.changes)
}

func TestRescheduleRejectsDateTheUserDidNotGive(t *testing.T) {
	book := &recordingBook{}
	c := newTestCatalog(t, book)

	tl, err := c.Build(ToolRescheduleAppointment, Binding{
		ThreadID: "t1",
		Patient:  domain.PatientContext{AppointmentDate: "2026-11-01"},
		Turn:     []domain.Message{domain.UserMessage("ขอเลื่อนเป็นวันที่ 9 พฤศจิกายนครับ")},
	})
	require.NoError(t, err)

	out, err := tl.InvokableRun(context.Background(), `{"new_date":"2026-10-20"}`)
	require.NoError(t, err)
	assert.Equal(t, RescheduleMismatch, out)
	assert.Empty(t, book.changes)

	out, err = tl.InvokableRun(context.Background(), `{"new_date":"2026-11-09"}`)
	require.NoError(t, err)
	assert.Contains(t, out, "เลื่อนนัดเรียบร้อยแล้ว")
	require.Len(t, book.changes, 1)
	assert.Equal(t, "2026-11-09", book.changes[0].ToDate)
}
