package extract

import (
	"bufio"
	"maps"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	headingRegex = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)
	fieldRegex   = regexp.MustCompile(`(?i)^\s*(course|course title|course code|instructor|professor|term|semester)\s*:\s*(.+)$`)
	examRegex    = regexp.MustCompile(`(?i)\b(midterm|final exam|final|exam|quiz|test)\b[^\n]*?(\d{4}-\d{2}-\d{2}|(?:jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.? \d{1,2}, \d{4})`)
)

// fieldAliases maps "Label:" lines found in raw text to payload keys.
var fieldAliases = map[string]string{
	"course":       "course_title",
	"course title": "course_title",
	"course code":  "course_code",
	"instructor":   "instructor",
	"professor":    "instructor",
	"term":         "term",
	"semester":     "term",
}

// FromRaw builds best-effort metadata from the raw metadata object and the
// raw text of a completed job that carried no processed data. Explicit
// metadata and frontmatter win over fields scanned from the text. The result
// is always marked SourceRawFallback; nil means nothing was present at all.
func FromRaw(metadata map[string]any, text string) *Metadata {
	if len(metadata) == 0 && strings.TrimSpace(text) == "" {
		return nil
	}

	frontmatter, body := splitFrontmatter(text)
	explicit := make(map[string]any, len(frontmatter)+len(metadata))
	maps.Copy(explicit, frontmatter)
	maps.Copy(explicit, metadata)

	m := FromMap(explicit, SourceRawFallback)
	if m == nil {
		m = &Metadata{Source: SourceRawFallback, Confidence: ConfidenceFallback}
	}
	fillMissing(m, FromMap(scanText(body), SourceRawFallback))
	return m
}

func fillMissing(dst, src *Metadata) {
	if src == nil {
		return
	}
	fill := func(d *string, s string) {
		if *d == "" {
			*d = s
		}
	}
	fill(&dst.CourseTitle, src.CourseTitle)
	fill(&dst.CourseCode, src.CourseCode)
	fill(&dst.Instructor, src.Instructor)
	fill(&dst.Term, src.Term)
	fill(&dst.Description, src.Description)
	if len(dst.Topics) == 0 {
		dst.Topics = src.Topics
	}
	if len(dst.Exams) == 0 {
		dst.Exams = src.Exams
	}
}

// splitFrontmatter separates a leading YAML block delimited by "---" lines.
// Malformed YAML is ignored and the text is returned untouched.
func splitFrontmatter(text string) (map[string]any, string) {
	if !strings.HasPrefix(text, "---\n") {
		return nil, text
	}
	end := strings.Index(text[4:], "\n---")
	if end < 0 {
		return nil, text
	}
	fm := make(map[string]any)
	if err := yaml.Unmarshal([]byte(text[4:4+end]), &fm); err != nil {
		return nil, text
	}
	return fm, strings.TrimPrefix(text[4+end+4:], "\n")
}

// scanText pulls a title from the first h1, topics from h2 headings,
// "Label: value" lines and dated exam mentions.
func scanText(text string) map[string]any {
	out := make(map[string]any)
	var topics []any
	var exams []any

	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if match := headingRegex.FindStringSubmatch(line); len(match) > 0 {
			heading := strings.TrimSpace(match[2])
			switch len(match[1]) {
			case 1:
				if _, ok := out["course_title"]; !ok {
					out["course_title"] = heading
				}
			case 2:
				topics = append(topics, heading)
			}
			continue
		}

		if match := fieldRegex.FindStringSubmatch(line); len(match) > 0 {
			key := fieldAliases[strings.ToLower(match[1])]
			if _, ok := out[key]; !ok {
				out[key] = strings.TrimSpace(match[2])
			}
			continue
		}

		if match := examRegex.FindStringSubmatch(line); len(match) > 0 {
			exams = append(exams, map[string]any{
				"title": titleCase(match[1]),
				"date":  match[2],
			})
		}
	}

	if len(topics) > 0 {
		out["topics"] = topics
	}
	if len(exams) > 0 {
		out["exams"] = exams
	}
	return out
}

func titleCase(s string) string {
	words := strings.Fields(strings.ToLower(s))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
