package lang

import (
	"errors"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

var (
	scriptLexer = lexer.MustSimple([]lexer.SimpleRule{
		{Name: "Comment", Pattern: `(\*|//)[^\n]*`},
		{Name: "Whitespace", Pattern: `[ \t\r]+`},
		{Name: "EOL", Pattern: `[\n;]+`},
		{Name: "String", Pattern: `"(?:[^"\\]|\\.)*"`},
		{Name: "Float", Pattern: `-?\d+\.\d*`},
		{Name: "Int", Pattern: `-?\d+`},
		{Name: "Ident", Pattern: `[a-zA-Z_][a-zA-Z0-9_]*`},
		{Name: "Punct", Pattern: `[\[\]]`},
	})

	scriptParser = participle.MustBuild[Program](
		participle.Lexer(scriptLexer),
		participle.Elide("Comment", "Whitespace"),
		participle.Unquote("String"),
	)
)

// Program is the parsed form of a script: one instruction per line or per
// ';'-separated statement. Operands are kept flat; the assembler groups them
// using the operand signatures of the dispatch table.
type Program struct {
	Statements []*Statement `( @@ | EOL )*`
}

type Statement struct {
	Pos  lexer.Position
	Name string  `@Ident`
	Args []*Atom `@@*`
}

type Atom struct {
	Pos    lexer.Position
	Float  *float64  `  @Float`
	Int    *int64    `| @Int`
	String *string   `| @String`
	Bytes  *ByteList `| @@`
	Word   *string   `| @Ident`
}

type ByteList struct {
	Values []int64 `"[" @Int* "]"`
}

// Parse parses script source. Syntax errors are returned as *AssembleError.
func Parse(filename, source string) (*Program, error) {
	program, err := scriptParser.ParseString(filename, source)
	if err != nil {
		var perr participle.Error
		if errors.As(err, &perr) {
			return nil, newAssembleError(ErrorSyntax, perr.Position(), source, "", perr.Message(), "")
		}
		return nil, err
	}
	return program, nil
}
