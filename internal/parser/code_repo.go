package parser

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-git/go-git/v5"
)

// CodeRepoParser turns a git repository's HEAD commit history and root
// manifest into a structured document: one section of recent history plus
// one section per detected language summarizing exported symbols found by
// a per-language regex, mirroring the teacher's regex-table approach to
// structural analysis.
type CodeRepoParser struct{}

func (p *CodeRepoParser) SupportedFormats() []string { return []string{"code_repo"} }

var symbolPatterns = map[string]*regexp.Regexp{
	".go":  regexp.MustCompile(`(?m)^func\s+(?:\([^)]*\)\s*)?([A-Z]\w*)\s*\(`),
	".py":  regexp.MustCompile(`(?m)^(?:def|class)\s+([A-Za-z_]\w*)`),
	".ts":  regexp.MustCompile(`(?m)^export\s+(?:function|class|interface|const)\s+([A-Za-z_]\w*)`),
	".js":  regexp.MustCompile(`(?m)^export\s+(?:function|class|const)\s+([A-Za-z_]\w*)`),
	".rs":  regexp.MustCompile(`(?m)^pub\s+fn\s+([A-Za-z_]\w*)`),
}

var manifestFiles = []string{"go.mod", "package.json", "Cargo.toml", "pyproject.toml", "requirements.txt"}

func (p *CodeRepoParser) Parse(path string) (*ParsedDocument, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return nil, fmt.Errorf("opening git repo: %w", err)
	}

	doc := &ParsedDocument{Format: "code_repo", Title: filepath.Base(path)}

	for _, name := range manifestFiles {
		if content, err := readIfExists(filepath.Join(path, name)); err == nil && content != "" {
			doc.TotalChars += len(content)
			doc.Sections = append(doc.Sections, Section{
				Heading:     name,
				Depth:       1,
				Content:     content,
				Type:        "definition",
				ContentType: "manifest",
			})
		}
	}

	if historySection, err := recentHistory(repo); err == nil && historySection.Content != "" {
		doc.Sections = append(doc.Sections, historySection)
		doc.TotalChars += len(historySection.Content)
	}

	for lang, section := range exportedSymbolsByLanguage(path) {
		doc.Sections = append(doc.Sections, section)
		doc.TotalChars += len(section.Content)
		_ = lang
	}

	return doc, nil
}

// exportedSymbolsByLanguage walks the working tree (skipping .git and
// common vendor/build directories) and collects exported symbol names per
// detected language extension, using the per-language regex table.
func exportedSymbolsByLanguage(root string) map[string]Section {
	found := make(map[string][]string)

	_ = filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			base := filepath.Base(p)
			if base == ".git" || base == "node_modules" || base == "vendor" || base == "dist" {
				return filepath.SkipDir
			}
			return nil
		}
		ext := filepath.Ext(p)
		pattern, ok := symbolPatterns[ext]
		if !ok {
			return nil
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return nil
		}
		for _, m := range pattern.FindAllStringSubmatch(string(data), -1) {
			if len(m) > 1 {
				found[ext] = append(found[ext], m[1])
			}
		}
		return nil
	})

	out := make(map[string]Section)
	for ext, symbols := range found {
		if len(symbols) == 0 {
			continue
		}
		out[ext] = Section{
			Heading:     fmt.Sprintf("exported symbols (%s)", ext),
			Depth:       1,
			Content:     strings.Join(symbols, ", "),
			Type:        "definition",
			ContentType: "code",
			Language:    ext,
		}
	}
	return out
}

func readIfExists(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// recentHistory walks HEAD's commit log, skipping merge commits and
// trivial ("wip", "typo", "fixup") messages, rendering a prose summary.
func recentHistory(repo *git.Repository) (Section, error) {
	head, err := repo.Head()
	if err != nil {
		return Section{}, err
	}

	var b strings.Builder
	count := 0
	const maxCommits = 100

	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return Section{}, err
	}
	defer iter.Close()
	for count < maxCommits {
		c, err := iter.Next()
		if err != nil {
			break
		}
		if c.NumParents() > 1 {
			continue // skip merge commits
		}
		msg := strings.TrimSpace(strings.SplitN(c.Message, "\n", 2)[0])
		if isTrivialCommitMessage(msg) {
			continue
		}
		b.WriteString(fmt.Sprintf("%s  %s (%s)\n", c.Author.When.Format("2006-01-02"), msg, c.Author.Email))
		count++
	}

	return Section{
		Heading:     "recent history",
		Depth:       1,
		Content:     strings.TrimSpace(b.String()),
		Type:        "paragraph",
		ContentType: "history",
	}, nil
}

func isTrivialCommitMessage(msg string) bool {
	lower := strings.ToLower(msg)
	for _, trivial := range []string{"wip", "typo", "fixup", "merge branch"} {
		if strings.Contains(lower, trivial) {
			return true
		}
	}
	return len(strings.TrimSpace(msg)) < 4
}
