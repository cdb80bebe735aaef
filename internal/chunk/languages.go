package chunk

import (
	"path"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// classifyFunc reports whether a top level node is a declaration worth its
// own chunk.
type classifyFunc func(n *sitter.Node, src []byte) (DeclKind, string, bool)

type language struct {
	name     string
	grammar  func() *sitter.Language
	classify classifyFunc
}

var languages = map[string]*language{
	".ts":  {name: "typescript", grammar: typescript.GetLanguage, classify: classifyECMA},
	".mts": {name: "typescript", grammar: typescript.GetLanguage, classify: classifyECMA},
	".cts": {name: "typescript", grammar: typescript.GetLanguage, classify: classifyECMA},
	".tsx": {name: "tsx", grammar: tsx.GetLanguage, classify: classifyECMA},
	".js":  {name: "javascript", grammar: javascript.GetLanguage, classify: classifyECMA},
	".jsx": {name: "javascript", grammar: javascript.GetLanguage, classify: classifyECMA},
	".mjs": {name: "javascript", grammar: javascript.GetLanguage, classify: classifyECMA},
	".cjs": {name: "javascript", grammar: javascript.GetLanguage, classify: classifyECMA},
	".go":  {name: "go", grammar: golang.GetLanguage, classify: classifyGo},
	".py":  {name: "python", grammar: python.GetLanguage, classify: classifyPython},
}

var markdownExts = map[string]struct{}{".md": {}, ".markdown": {}}

func languageFor(filePath string) (*language, bool) {
	lang, ok := languages[strings.ToLower(path.Ext(filePath))]
	return lang, ok
}

func isMarkdown(filePath string) bool {
	_, ok := markdownExts[strings.ToLower(path.Ext(filePath))]
	return ok
}

// SupportedExtensions lists every extension the chunker understands.
func SupportedExtensions() []string {
	exts := make([]string, 0, len(languages)+len(markdownExts))
	for ext := range languages {
		exts = append(exts, ext)
	}
	for ext := range markdownExts {
		exts = append(exts, ext)
	}
	return exts
}

func classifyECMA(n *sitter.Node, src []byte) (DeclKind, string, bool) {
	switch n.Type() {
	case "function_declaration", "generator_function_declaration":
		return KindFunction, identifier(n.ChildByFieldName("name"), src), true
	case "class_declaration", "abstract_class_declaration", "class":
		return KindClass, identifier(n.ChildByFieldName("name"), src), true
	case "function", "function_expression", "generator_function", "arrow_function":
		return KindFunction, identifier(n.ChildByFieldName("name"), src), true
	case "export_statement":
		if decl := n.ChildByFieldName("declaration"); decl != nil {
			return classifyECMA(decl, src)
		}
		if value := n.ChildByFieldName("value"); value != nil {
			return classifyECMA(value, src)
		}
	case "lexical_declaration", "variable_declaration":
		for i := 0; i < int(n.NamedChildCount()); i++ {
			declarator := n.NamedChild(i)
			if declarator == nil || declarator.Type() != "variable_declarator" {
				continue
			}
			value := declarator.ChildByFieldName("value")
			if value == nil {
				continue
			}
			switch value.Type() {
			case "arrow_function", "function", "function_expression", "generator_function":
				return KindFunction, identifier(declarator.ChildByFieldName("name"), src), true
			case "class":
				return KindClass, identifier(declarator.ChildByFieldName("name"), src), true
			}
		}
	}
	return 0, "", false
}

func classifyGo(n *sitter.Node, src []byte) (DeclKind, string, bool) {
	switch n.Type() {
	case "function_declaration", "method_declaration":
		return KindFunction, identifier(n.ChildByFieldName("name"), src), true
	case "type_declaration":
		for i := 0; i < int(n.NamedChildCount()); i++ {
			spec := n.NamedChild(i)
			if spec == nil || spec.Type() != "type_spec" {
				continue
			}
			typ := spec.ChildByFieldName("type")
			if typ == nil {
				continue
			}
			if typ.Type() == "struct_type" || typ.Type() == "interface_type" {
				return KindClass, identifier(spec.ChildByFieldName("name"), src), true
			}
		}
	}
	return 0, "", false
}

func classifyPython(n *sitter.Node, src []byte) (DeclKind, string, bool) {
	switch n.Type() {
	case "function_definition":
		return KindFunction, identifier(n.ChildByFieldName("name"), src), true
	case "class_definition":
		return KindClass, identifier(n.ChildByFieldName("name"), src), true
	case "decorated_definition":
		if def := n.ChildByFieldName("definition"); def != nil {
			return classifyPython(def, src)
		}
	}
	return 0, "", false
}

func identifier(n *sitter.Node, src []byte) string {
	if n == nil {
		return ""
	}
	switch n.Type() {
	case "identifier", "type_identifier", "field_identifier", "property_identifier":
		return n.Content(src)
	}
	return ""
}
