package utils

// ExtractJSON 从文本中提取第一个完整的 JSON 对象
// 忽略字符串字面量里的花括号；找不到时返回原文
func ExtractJSON(content string) string {
	start := -1
	depth := 0
	inString := false
	escaped := false

	for i, ch := range content {
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}

		switch ch {
		case '"':
			if start != -1 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 && start != -1 {
				return content[start : i+1]
			}
		}
	}

	return content
}
