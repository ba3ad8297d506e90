package capabilities

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/careguide/backend/internal/domain"
)

// 纯数字日期：ISO、带年份的 d/m/y 或 d.m.y、以 วันที่ 开头的日或日/月
// 不带年份的 7.5、12/8 是读数或剂量，不算日期
var (
	isoDatePattern      = regexp.MustCompile(`\b(\d{4})-(\d{1,2})-(\d{1,2})\b`)
	dmyDatePattern      = regexp.MustCompile(`\b(\d{1,2})[/.](\d{1,2})[/.](\d{2,4})\b`)
	anchoredDatePattern = regexp.MustCompile(`วันที่\s*(\d{1,2})(?:\s*/\s*(\d{1,2}))?`)
)

// 月份名称到月份
var monthNames = map[string]int{
	"มกราคม": 1, "กุมภาพันธ์": 2, "มีนาคม": 3, "เมษายน": 4, "พฤษภาคม": 5, "มิถุนายน": 6,
	"กรกฎาคม": 7, "สิงหาคม": 8, "กันยายน": 9, "ตุลาคม": 10, "พฤศจิกายน": 11, "ธันวาคม": 12,
	"ม.ค.": 1, "ก.พ.": 2, "มี.ค.": 3, "เม.ย.": 4, "พ.ค.": 5, "มิ.ย.": 6,
	"ก.ค.": 7, "ส.ค.": 8, "ก.ย.": 9, "ต.ค.": 10, "พ.ย.": 11, "ธ.ค.": 12,
	"january": 1, "february": 2, "march": 3, "april": 4, "may": 5, "june": 6,
	"july": 7, "august": 8, "september": 9, "october": 10, "november": 11, "december": 12,
}

var dayMonthPattern, monthDayPattern = monthPatterns()

func monthPatterns() (*regexp.Regexp, *regexp.Regexp) {
	names := make([]string, 0, len(monthNames))
	for name := range monthNames {
		names = append(names, regexp.QuoteMeta(name))
	}
	// 长名称优先匹配
	sort.Slice(names, func(i, j int) bool { return len(names[i]) > len(names[j]) })
	alt := strings.Join(names, "|")
	return regexp.MustCompile(`\b(\d{1,2})\s*(` + alt + `)`),
		regexp.MustCompile(`(` + alt + `)\s*(\d{1,2})\b`)
}

// 相对日期，相对 domain.Now 的天数
var relativeDays = map[string]int{
	"พรุ่งนี้": 1, "tomorrow": 1, "มะรืน": 2,
}

// 泰语与英语中的日期表达：星期、月份、相对日期
var dateWords = []string{
	// 泰语星期
	"วันจันทร์", "วันอังคาร", "วันพุธ", "วันพฤหัส", "วันศุกร์", "วันเสาร์", "วันอาทิตย์",
	"จันทร์หน้า", "อังคารหน้า", "พุธหน้า", "พฤหัสหน้า", "ศุกร์หน้า", "เสาร์หน้า",
	// 泰语月份
	"มกราคม", "กุมภาพันธ์", "มีนาคม", "เมษายน", "พฤษภาคม", "มิถุนายน",
	"กรกฎาคม", "สิงหาคม", "กันยายน", "ตุลาคม", "พฤศจิกายน", "ธันวาคม",
	"ม.ค.", "ก.พ.", "มี.ค.", "เม.ย.", "พ.ค.", "มิ.ย.", "ก.ค.", "ส.ค.", "ก.ย.", "ต.ค.", "พ.ย.", "ธ.ค.",
	// 泰语相对日期
	"พรุ่งนี้", "มะรืน", "สัปดาห์หน้า", "อาทิตย์หน้า", "เดือนหน้า",
	// 英语
	"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday",
	"january", "february", "march", "april", "june", "july", "august",
	"september", "october", "november", "december",
	"tomorrow", "next week", "next month",
}

// MentionsDate 文本中是否出现明确的日期表达
func MentionsDate(text string) bool {
	if text == "" {
		return false
	}
	lower := strings.ToLower(text)
	if len(wordsIn(lower)) > 0 {
		return true
	}
	return isoDatePattern.MatchString(lower) || dmyDatePattern.MatchString(lower) || anchoredDatePattern.MatchString(lower)
}

// UserSuppliedDate 用户消息中是否给出过日期
func UserSuppliedDate(history []domain.Message) bool {
	for _, m := range history {
		if m.Role == domain.RoleUser && MentionsDate(m.Content) {
			return true
		}
	}
	return false
}

// ConfirmsUserDate newDate 是否就是用户消息里说过的日期
// 日历日期按日、月、年比较，未给出的部分不参与比较；星期等说法要求用户说过同样的词
func ConfirmsUserDate(newDate string, history []domain.Message) bool {
	target := strings.ToLower(strings.TrimSpace(newDate))
	if target == "" || !MentionsDate(target) {
		return false
	}
	targetDates := calendarDates(target)
	targetWords := wordsIn(target)

	for _, m := range history {
		if m.Role != domain.RoleUser {
			continue
		}
		text := strings.ToLower(m.Content)
		if !MentionsDate(text) {
			continue
		}
		if strings.Contains(text, target) {
			return true
		}
		if len(targetDates) > 0 {
			for _, want := range targetDates {
				for _, got := range calendarDates(text) {
					if want.matches(got) {
						return true
					}
				}
			}
			continue
		}
		for _, w := range targetWords {
			if strings.Contains(text, w) {
				return true
			}
		}
	}
	return false
}

// calendarDate 日、月、年，0 表示没有给出
type calendarDate struct {
	day, month, year int
}

func (d calendarDate) matches(o calendarDate) bool {
	if d.day == 0 || d.day != o.day {
		return false
	}
	if d.month != 0 && o.month != 0 && d.month != o.month {
		return false
	}
	return d.year == 0 || o.year == 0 || d.year == o.year
}

// calendarDates 提取文本中能落到具体某天的日期，text 已转小写
func calendarDates(text string) []calendarDate {
	var out []calendarDate
	for _, m := range isoDatePattern.FindAllStringSubmatch(text, -1) {
		out = append(out, calendarDate{day: atoi(m[3]), month: atoi(m[2]), year: normalizeYear(m[1])})
	}
	for _, m := range dmyDatePattern.FindAllStringSubmatch(text, -1) {
		out = append(out, calendarDate{day: atoi(m[1]), month: atoi(m[2]), year: normalizeYear(m[3])})
	}
	for _, m := range anchoredDatePattern.FindAllStringSubmatch(text, -1) {
		out = append(out, calendarDate{day: atoi(m[1]), month: atoi(m[2])})
	}
	for _, m := range dayMonthPattern.FindAllStringSubmatch(text, -1) {
		out = append(out, calendarDate{day: atoi(m[1]), month: monthNames[m[2]]})
	}
	for _, m := range monthDayPattern.FindAllStringSubmatch(text, -1) {
		out = append(out, calendarDate{day: atoi(m[2]), month: monthNames[m[1]]})
	}
	for word, days := range relativeDays {
		if strings.Contains(text, word) {
			t := domain.Now().AddDate(0, 0, days)
			out = append(out, calendarDate{day: t.Day(), month: int(t.Month()), year: t.Year()})
		}
	}

	valid := out[:0]
	for _, d := range out {
		if d.day >= 1 && d.day <= 31 && d.month >= 0 && d.month <= 12 {
			valid = append(valid, d)
		}
	}
	return valid
}

func wordsIn(text string) []string {
	var out []string
	for _, w := range dateWords {
		if strings.Contains(text, w) {
			out = append(out, w)
		}
	}
	return out
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// normalizeYear 佛历转公历，两位年份视为未给出
func normalizeYear(s string) int {
	y := atoi(s)
	switch {
	case y < 100:
		return 0
	case y > 2400:
		return y - 543
	}
	return y
}
