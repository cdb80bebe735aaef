package chunk

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/repoqa/internal/model"
	appErr "github.com/xxxsen/repoqa/internal/pkg/errors"
)

type FileError struct {
	Path string
	Err  error
}

func (e FileError) Error() string {
	return e.Path + ": " + e.Err.Error()
}

func (e FileError) Unwrap() error {
	return e.Err
}

// Chunker turns source files into a whole-file chunk plus one chunk per top
// level declaration. It holds no state and is safe for concurrent use.
type Chunker struct{}

func NewChunker() *Chunker {
	return &Chunker{}
}

func (c *Chunker) Supports(filePath string) bool {
	_, ok := languageFor(filePath)
	return ok || isMarkdown(filePath)
}

// ChunkFiles chunks every file ordered by path. Files that cannot be parsed
// are skipped and returned as errors next to the chunks of the others.
func (c *Chunker) ChunkFiles(ctx context.Context, repoID string, files []model.SourceFile) ([]model.Chunk, []FileError) {
	sorted := make([]model.SourceFile, len(files))
	copy(sorted, files)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	var (
		chunks []model.Chunk
		failed []FileError
	)
	for _, file := range sorted {
		if err := ctx.Err(); err != nil {
			failed = append(failed, FileError{Path: file.Path, Err: err})
			break
		}
		items, err := c.ChunkFile(ctx, repoID, file)
		if err != nil {
			logutil.GetLogger(ctx).Warn("skip file: parse failed", zap.String("path", file.Path), zap.Error(err))
			failed = append(failed, FileError{Path: file.Path, Err: err})
			continue
		}
		chunks = append(chunks, items...)
	}
	return chunks, failed
}

func (c *Chunker) ChunkFile(ctx context.Context, repoID string, file model.SourceFile) ([]model.Chunk, error) {
	if !utf8.ValidString(file.Content) {
		return nil, fmt.Errorf("%w: content is not valid utf-8", appErr.ErrParse)
	}
	decls, err := c.Declarations(ctx, file.Path, file.Content)
	if err != nil {
		return nil, err
	}
	chunks := make([]model.Chunk, 0, len(decls)+1)
	chunks = append(chunks, model.Chunk{
		RepoID:          repoID,
		FilePath:        file.Path,
		DeclarationName: path.Base(file.Path),
		StartLine:       1,
		EndLine:         lineCount(file.Content),
		Content:         file.Content,
	})
	for _, decl := range decls {
		start, end := decl.Span()
		chunks = append(chunks, model.Chunk{
			RepoID:          repoID,
			FilePath:        file.Path,
			DeclarationName: decl.Name(),
			StartLine:       start,
			EndLine:         end,
			Content:         decl.Text(),
		})
	}
	return chunks, nil
}

// Declarations returns the top level declarations of a file in source order.
// Files of unknown type have none.
func (c *Chunker) Declarations(ctx context.Context, filePath string, content string) ([]Declaration, error) {
	if isMarkdown(filePath) {
		return markdownSections(content), nil
	}
	lang, ok := languageFor(filePath)
	if !ok {
		return nil, nil
	}
	src := []byte(content)
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(lang.grammar())
	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", appErr.ErrParse, err)
	}
	if tree == nil {
		return nil, fmt.Errorf("%w: no syntax tree", appErr.ErrParse)
	}
	defer tree.Close()

	root := tree.RootNode()
	lines := strings.Split(content, "\n")
	var decls []Declaration
	for i := 0; i < int(root.NamedChildCount()); i++ {
		node := root.NamedChild(i)
		if node == nil || node.HasError() {
			continue
		}
		kind, name, ok := lang.classify(node, src)
		if !ok {
			continue
		}
		start := leadingCommentRow(node) + 1
		end := endRow(node) + 1
		decls = append(decls, newDecl(kind, name, start, end, sliceLines(lines, start, end)))
	}
	return decls, nil
}

// leadingCommentRow walks back over comments directly attached to n.
func leadingCommentRow(n *sitter.Node) int {
	row := int(n.StartPoint().Row)
	for prev := n.PrevSibling(); prev != nil && prev.Type() == "comment"; prev = prev.PrevSibling() {
		if int(prev.EndPoint().Row)+1 < row {
			break
		}
		row = int(prev.StartPoint().Row)
	}
	return row
}

func endRow(n *sitter.Node) int {
	end := n.EndPoint()
	if end.Column == 0 && end.Row > n.StartPoint().Row {
		return int(end.Row) - 1
	}
	return int(end.Row)
}

func lineCount(content string) int {
	n := strings.Count(content, "\n")
	if !strings.HasSuffix(content, "\n") {
		n++
	}
	if n < 1 {
		return 1
	}
	return n
}

func sliceLines(lines []string, start, end int) string {
	if start < 1 {
		start = 1
	}
	if end > len(lines) {
		end = len(lines)
	}
	if start > end {
		return ""
	}
	return strings.Join(lines[start-1:end], "\n")
}
