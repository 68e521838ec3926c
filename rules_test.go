package fwdproxy

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadRulesBasic(t *testing.T) {
	input := `[gambling]
BAN_DOMAIN bet365.com
BAN_WORD poker

[malware]
BAN_DOMAIN evil.example
`
	rs, err := parseRules(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, rs.Categories, 2)
	require.Equal(t, "gambling", rs.Categories[0].Name)
	require.Equal(t, []string{"bet365.com"}, rs.Categories[0].BanDomains)
	require.Equal(t, []string{"poker"}, rs.Categories[0].BanWords)

	require.True(t, rs.IsDenied("bet365.com"))
	require.True(t, rs.IsDenied("evil.example"))
	require.False(t, rs.IsDenied("safe.example"))
}

func TestIsDeniedIgnoresBanWords(t *testing.T) {
	input := `[gambling]
BAN_WORD poker
`
	rs, err := parseRules(strings.NewReader(input))
	require.NoError(t, err)

	// A host literally named "poker" is not matched by a BAN_WORD
	// entry: is_host_deny only ever scans ban_domain_list.
	require.False(t, rs.IsDenied("poker"))
}

func TestCategoryHeaderDisjunctionBug(t *testing.T) {
	// Either a leading '[' or a trailing ']' opens a new category, even
	// when the other bracket is missing.
	require.True(t, isCategoryHeader("[gambling"))
	require.True(t, isCategoryHeader("gambling]"))
	require.True(t, isCategoryHeader("[gambling]"))
	require.False(t, isCategoryHeader("gambling"))
}

func TestNilRuleSetDeniesNothing(t *testing.T) {
	var rs *RuleSet
	require.False(t, rs.IsDenied("anything.example"))
}
