package analyzer

import (
	"regexp"
	"strings"
)

// Analysis 是启发式文本分析的输出。
type Analysis struct {
	Emails     []string       `json:"emails"`
	Phones     []string       `json:"phones"`
	URLs       []string       `json:"urls"`
	Skills     []string       `json:"skills"`
	Sections   []Section      `json:"sections"`
	Structured map[string]any `json:"structured"`
	Entities   Entities       `json:"entities"`
}

// Section 表示按标题切分出的一段内容。
type Section struct {
	Heading string `json:"heading"`
	Content string `json:"content"`
}

// Entities 是从文本中粗提取的实体。
type Entities struct {
	Companies []string `json:"companies"`
	Titles    []string `json:"titles"`
}

var skillWords = []string{
	"javascript", "typescript", "react", "node", "python", "java", "go", "sql",
	"postgres", "aws", "docker", "kubernetes", "graphql", "css", "html",
	"tailwind", "deno", "git", "linux", "redis", "mongodb", "ci", "cd",
}

var sectionHeadings = map[string]struct{}{
	"experience":              {},
	"work experience":         {},
	"professional experience": {},
	"education":               {},
	"projects":                {},
	"skills":                  {},
	"certifications":          {},
	"summary":                 {},
	"profile":                 {},
	"achievements":            {},
}

var (
	emailRe   = regexp.MustCompile(`(?i)[A-Z0-9._%+-]+@[A-Z0-9.-]+\.[A-Z]{2,}`)
	phoneRe   = regexp.MustCompile(`\+?\d[\d()\-\s]{6,}\d`)
	urlRe     = regexp.MustCompile(`(?i)https?://[\w./#?=&%-]+`)
	companyRe = regexp.MustCompile(`\b[A-Z][A-Za-z&]+(?:\s+[A-Z][A-Za-z&]+)*\s+(?:Inc|LLC|Ltd|Corporation|Corp|Group)\b`)
	titleRe   = regexp.MustCompile(`(?i)\b(?:Senior|Lead|Principal|Staff|Junior)?\s*(?:Engineer|Developer|Manager|Director|Designer|Analyst|Consultant)\b`)
)

// Analyze 对简历文本做启发式提取：联系方式、技能、分节与实体。
// 结果完全确定，不依赖外部服务。
func Analyze(text string) Analysis {
	lower := strings.ToLower(text)

	skills := make([]string, 0)
	for _, w := range skillWords {
		if strings.Contains(lower, w) {
			skills = append(skills, w)
		}
	}

	sections := splitSections(text)

	structured := map[string]any{
		"summary":    firstSectionContent(sections, "summary"),
		"education":  sectionsContaining(sections, "education"),
		"experience": sectionsContaining(sections, "experience"),
		"projects":   sectionsContaining(sections, "project"),
	}

	companies := dedupe(companyRe.FindAllString(text, 50))
	titles := make([]string, 0)
	for _, t := range titleRe.FindAllString(text, -1) {
		titles = append(titles, strings.TrimSpace(t))
	}

	return Analysis{
		Emails:     dedupe(emailRe.FindAllString(text, -1)),
		Phones:     dedupe(phoneRe.FindAllString(text, -1)),
		URLs:       dedupe(urlRe.FindAllString(text, -1)),
		Skills:     skills,
		Sections:   sections,
		Structured: structured,
		Entities:   Entities{Companies: companies, Titles: dedupe(titles)},
	}
}

func splitSections(text string) []Section {
	sections := make([]Section, 0)
	var heading string
	var content []string

	flush := func() {
		if heading != "" {
			sections = append(sections, Section{Heading: heading, Content: strings.Join(content, "\n")})
		}
	}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if _, ok := sectionHeadings[strings.ToLower(line)]; ok {
			flush()
			heading = line
			content = content[:0]
			continue
		}
		if heading != "" {
			content = append(content, line)
		}
	}
	flush()
	return sections
}

func firstSectionContent(sections []Section, keyword string) string {
	for _, s := range sections {
		if strings.Contains(strings.ToLower(s.Heading), keyword) {
			return s.Content
		}
	}
	return ""
}

func sectionsContaining(sections []Section, keyword string) []Section {
	matched := make([]Section, 0)
	for _, s := range sections {
		if strings.Contains(strings.ToLower(s.Heading), keyword) {
			matched = append(matched, s)
		}
	}
	return matched
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
