package parser

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// SessionTranscriptParser reads a JSONL conversation transcript stored as
// a blob at a given git ref without checking the ref out, the Go
// equivalent of "show object at ref" — it walks straight into the repo's
// object store via go-git, leaving the working tree untouched.
type SessionTranscriptParser struct {
	// TranscriptCharCap bounds the rendered transcript size. Zero means
	// use the default of 200,000 characters.
	TranscriptCharCap int
}

func (p *SessionTranscriptParser) SupportedFormats() []string { return []string{"session_transcript"} }

// sessionRef identifies a transcript blob: repoPath is the git repository
// root, ref is any revision go-git can resolve (a branch, tag, or commit
// hash), and blobPath is the path of the JSONL file within that tree.
type sessionRef struct {
	RepoPath string
	Ref      string
	BlobPath string
}

// ParseRef reads the transcript at the given ref/path combination. Parse
// is kept to satisfy the Parser interface for registry lookups that pass
// a single path; callers needing a specific ref should call ParseRef
// directly.
func (p *SessionTranscriptParser) Parse(path string) (*ParsedDocument, error) {
	return p.ParseRef(sessionRef{RepoPath: path, Ref: "HEAD", BlobPath: path})
}

func (p *SessionTranscriptParser) ParseRef(ref sessionRef) (*ParsedDocument, error) {
	repo, err := git.PlainOpen(ref.RepoPath)
	if err != nil {
		return nil, fmt.Errorf("opening repo: %w", err)
	}

	hash, err := repo.ResolveRevision(plumbing.Revision(ref.Ref))
	if err != nil {
		return nil, fmt.Errorf("resolving ref %q: %w", ref.Ref, err)
	}
	commit, err := repo.CommitObject(*hash)
	if err != nil {
		return nil, fmt.Errorf("reading commit: %w", err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("reading tree: %w", err)
	}
	file, err := tree.File(ref.BlobPath)
	if err != nil {
		return nil, fmt.Errorf("reading blob %q at %s: %w", ref.BlobPath, ref.Ref, err)
	}
	reader, err := file.Reader()
	if err != nil {
		return nil, fmt.Errorf("opening blob reader: %w", err)
	}
	defer reader.Close()

	cap := p.TranscriptCharCap
	if cap <= 0 {
		cap = 200000
	}

	doc := &ParsedDocument{Format: "session_transcript"}
	var rendered strings.Builder
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var turn struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		}
		if err := json.Unmarshal(line, &turn); err != nil {
			continue
		}
		rendered.WriteString(fmt.Sprintf("%s: %s\n\n", turn.Role, turn.Content))
		if rendered.Len() >= cap {
			break
		}
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		return nil, fmt.Errorf("scanning transcript: %w", err)
	}

	content := rendered.String()
	if len(content) > cap {
		content = content[:cap]
	}
	doc.TotalChars = len(content)
	doc.Sections = []Section{{
		Heading:     ref.BlobPath,
		Depth:       1,
		Content:     strings.TrimSpace(content),
		Type:        "paragraph",
		ContentType: "conversation",
		LineStart:   1,
		LineEnd:     lineNo,
	}}
	return doc, nil
}
