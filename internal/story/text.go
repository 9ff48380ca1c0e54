package story

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var (
	titleLabel  = regexp.MustCompile(`^(?i:titre|title)\s*:\s*`)
	unsafeChars = regexp.MustCompile(`[\\/:"*?<>|]`)
	blankLines  = regexp.MustCompile(`\n\s*\n`)
)

// DeriveTitle 取正文第一行作为标题：去掉开头的 "Titre :"/"Title:" 标签以及文件系统不安全字符。
func DeriveTitle(text string) string {
	first, _, _ := strings.Cut(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	first = strings.TrimSpace(first)
	first = titleLabel.ReplaceAllString(first, "")
	first = unsafeChars.ReplaceAllString(first, "")
	return strings.TrimSpace(first)
}

// NewStoryID 返回 title_<32 位十六进制随机串>。
func NewStoryID(title string) string {
	return title + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// SplitParagraphs 按空行切分正文，丢弃空段落。
func SplitParagraphs(text string) []string {
	parts := blankLines.Split(strings.ReplaceAll(text, "\r\n", "\n"), -1)
	paragraphs := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			paragraphs = append(paragraphs, p)
		}
	}
	return paragraphs
}

// truncate 按字符截断，超长时追加省略号。
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
