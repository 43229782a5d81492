package config

import (
	"fmt"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

// --- Participle grammar structs ---

// iniFile is a sequence of section headers and key/value lines.
type iniFile struct {
	Lines []*iniLine `parser:"@@*"`
}

// iniLine is either "[section]" or "key = value" (":" works as well).
type iniLine struct {
	Pos    lexer.Position
	Header *string `parser:"  @Header"`
	Key    string  `parser:"| @Key"`
	Value  string  `parser:"  @Value"`
}

var iniLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Comment", Pattern: `[#;][^\n]*`},
	{Name: "Header", Pattern: `\[[^\]\n]*\]`},
	{Name: "Key", Pattern: `[A-Za-z0-9_.\-]+`},
	{Name: "Value", Pattern: `[=:][^\n]*`},
	{Name: "Whitespace", Pattern: `[\s]+`},
})

var iniParser = participle.MustBuild[iniFile](
	participle.Lexer(iniLexer),
	participle.Elide("Comment", "Whitespace"),
)

// parse turns the grammar output into sections. Keys are lower cased and
// values trimmed; a later duplicate key wins.
func parse(name, input string) ([]string, map[string]map[string]string, error) {
	ast, err := iniParser.ParseString(name, input)
	if err != nil {
		return nil, nil, err
	}
	var (
		order    []string
		sections = map[string]map[string]string{}
		current  map[string]string
	)
	for _, line := range ast.Lines {
		if line.Header != nil {
			section := strings.TrimSpace(strings.Trim(*line.Header, "[]"))
			if section == "" {
				return nil, nil, fmt.Errorf("%s: empty section name", line.Pos)
			}
			if current = sections[section]; current == nil {
				current = map[string]string{}
				sections[section] = current
				order = append(order, section)
			}
			continue
		}
		if current == nil {
			return nil, nil, fmt.Errorf("%s: key %q outside of any section", line.Pos, line.Key)
		}
		current[strings.ToLower(line.Key)] = strings.TrimSpace(line.Value[1:])
	}
	return order, sections, nil
}
