package chunk

// AnonymousName names declarations without an identifier.
const AnonymousName = "<anonymous>"

type DeclKind int

const (
	KindFunction DeclKind = iota + 1
	KindClass
	KindSection
)

func (k DeclKind) String() string {
	switch k {
	case KindFunction:
		return "function"
	case KindClass:
		return "class"
	case KindSection:
		return "section"
	default:
		return "unknown"
	}
}

// Declaration is a top level unit of a file. Lines are 1 based and the span
// includes leading comments.
type Declaration interface {
	Kind() DeclKind
	Name() string
	Span() (start int, end int)
	Text() string
}

type declBase struct {
	name  string
	start int
	end   int
	text  string
}

func (d declBase) Name() string {
	if d.name == "" {
		return AnonymousName
	}
	return d.name
}

func (d declBase) Span() (int, int) { return d.start, d.end }
func (d declBase) Text() string     { return d.text }

type FunctionDecl struct{ declBase }

func (FunctionDecl) Kind() DeclKind { return KindFunction }

type ClassDecl struct{ declBase }

func (ClassDecl) Kind() DeclKind { return KindClass }

// SectionDecl is a markdown heading and the body below it.
type SectionDecl struct{ declBase }

func (SectionDecl) Kind() DeclKind { return KindSection }

func newDecl(kind DeclKind, name string, start, end int, text string) Declaration {
	base := declBase{name: name, start: start, end: end, text: text}
	switch kind {
	case KindClass:
		return ClassDecl{base}
	case KindSection:
		return SectionDecl{base}
	default:
		return FunctionDecl{base}
	}
}
