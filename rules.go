package fwdproxy

import (
	"bufio"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// Category is a named group of banned domains and banned words, as
// loaded from a [category] block in the rules file.
type Category struct {
	Name       string
	BanDomains []string
	BanWords   []string
}

// RuleSet is the immutable result of loading a rules file. It is built
// once at startup and never mutated afterward; IsDenied is safe to call
// repeatedly from the single engine goroutine.
type RuleSet struct {
	Categories []Category
}

// LoadRules parses filename into a RuleSet.
//
// The grammar is line-oriented:
//
//	[category-name]
//	BAN_DOMAIN example.com
//	BAN_WORD gambling
//	BAN_DOMAIN_SOURCE https://example.com/list.txt
//
// A line starting a new category is recognized the same way
// original_source/src/rules.c recognizes one: if the first character is
// '[' OR the last character is ']' (a disjunction, not a conjunction).
// This is a preserved quirk, not a typo: a line like "[bad" or "bad]"
// also opens a new category, same as the C implementation. See
// DESIGN.md.
func LoadRules(filename string) (*RuleSet, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, errors.Wrap(err, "open rules file")
	}
	defer f.Close()
	return parseRules(f)
}

func parseRules(r io.Reader) (*RuleSet, error) {
	rs := &RuleSet{}
	curIdx := -1

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if isCategoryHeader(line) {
			name := strings.Trim(line, "[]")
			rs.Categories = append(rs.Categories, Category{Name: name})
			curIdx = len(rs.Categories) - 1
			continue
		}
		if curIdx < 0 {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		cur := &rs.Categories[curIdx]
		switch fields[0] {
		case "BAN_DOMAIN":
			cur.BanDomains = append(cur.BanDomains, fields[1])
		case "BAN_WORD":
			cur.BanWords = append(cur.BanWords, fields[1])
		case "BAN_DOMAIN_SOURCE":
			domains, err := fetchDomainSource(fields[1])
			if err != nil {
				return nil, errors.Wrapf(err, "fetch %s", fields[1])
			}
			cur.BanDomains = append(cur.BanDomains, domains...)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "scan rules file")
	}
	return rs, nil
}

// isCategoryHeader mirrors init_rules's header test exactly:
// line[0]=='[' || line[len-1]==']'.
func isCategoryHeader(line string) bool {
	return strings.HasPrefix(line, "[") || strings.HasSuffix(line, "]")
}

// fetchDomainSource retrieves a newline-separated domain list over
// HTTP(S) once, at load time. The RuleSet is frozen after LoadRules
// returns; there is no re-polling or refresh.
func fetchDomainSource(url string) ([]string, error) {
	resp, err := http.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var domains []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		d := strings.TrimSpace(scanner.Text())
		if d == "" {
			continue
		}
		domains = append(domains, d)
	}
	return domains, scanner.Err()
}

// IsDenied reports whether host matches a banned domain in any
// category, by exact string comparison. BAN_WORD entries are parsed
// and retained but never consulted here, matching the original
// implementation: is_host_deny only ever walks ban_domain_list. See
// DESIGN.md.
func (rs *RuleSet) IsDenied(host string) bool {
	if rs == nil {
		return false
	}
	for _, cat := range rs.Categories {
		for _, d := range cat.BanDomains {
			if host == d {
				return true
			}
		}
	}
	return false
}
