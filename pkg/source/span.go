package source

import "fmt"

// Span captures a half-open source region for diagnostics. The front end
// supplies spans on every declaration and operation; the core only threads
// them through to the error-reporting collaborator.
type Span struct {
	File      string
	Line      int
	Column    int
	EndLine   int
	EndColumn int
}

// None is the zero span, used for synthesized records with no source text.
var None = Span{}

func (s Span) IsZero() bool { return s == Span{} }

func (s Span) String() string {
	if s.IsZero() {
		return "<unknown>"
	}
	if s.File == "" {
		return fmt.Sprintf("%d:%d", s.Line, s.Column)
	}
	return fmt.Sprintf("%s:%d:%d", s.File, s.Line, s.Column)
}

// At is a shorthand constructor for single-point spans, used heavily in tests.
func At(line, column int) Span {
	return Span{Line: line, Column: column, EndLine: line, EndColumn: column}
}
