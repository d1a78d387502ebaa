package grammar

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProduction(t *testing.T) {
	prod, err := ParseProduction(`^"IF" cond ("," cond)* | !"x" 'a'..'z'+ EOI`)
	require.NoError(t, err)
	require.Len(t, prod.Alternatives, 2)

	first := prod.Alternatives[0].Tokens
	require.Len(t, first, 3)
	assert.Equal(t, TokenKeyword, first[0].Type)
	assert.Equal(t, "IF", first[0].Value)
	assert.Equal(t, TokenRuleRef, first[1].Type)
	assert.Equal(t, TokenGroup, first[2].Type)
	assert.Equal(t, RepeatZeroOrMore, first[2].Repeat)

	second := prod.Alternatives[1].Tokens
	require.Len(t, second, 3)
	assert.Equal(t, LookaheadNot, second[0].Lookahead)
	assert.Equal(t, TokenRange, second[1].Type)
	assert.Equal(t, 'a', second[1].Lo)
	assert.Equal(t, 'z', second[1].Hi)
	assert.Equal(t, RepeatOneOrMore, second[1].Repeat)
	assert.Equal(t, TokenBuiltin, second[2].Type)

	assert.Equal(t, []string{"cond", "cond"}, prod.references())
}

func TestParseProduction_Escapes(t *testing.T) {
	prod, err := ParseProduction(`"\"" "\\" "\n"`)
	require.NoError(t, err)
	toks := prod.Alternatives[0].Tokens
	assert.Equal(t, `"`, toks[0].Value)
	assert.Equal(t, `\`, toks[1].Value)
	assert.Equal(t, "\n", toks[2].Value)
}

func TestParseProduction_Errors(t *testing.T) {
	for _, pattern := range []string{
		``,
		`"unterminated`,
		`a | | b`,
		`("x"`,
		`"x")`,
		`'z'..'a'`,
		`'ab'`,
		`x*+`,
		`^x`,
		`a % b`,
	} {
		_, err := ParseProduction(pattern)
		assert.Error(t, err, "pattern %q", pattern)
	}
}
