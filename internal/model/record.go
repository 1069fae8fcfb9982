package model

import (
	"strconv"
	"strings"
)

// Source names. Each collector, output artifact and store row is keyed by one.
const (
	SourceLeetCode      = "leetcode"
	SourceGitHub        = "github"
	SourceStackOverflow = "stackoverflow"
)

// Sources lists every supported source in run order.
var Sources = []string{SourceLeetCode, SourceGitHub, SourceStackOverflow}

// Record is one accepted, normalized profile. Columns is fixed per source
// and Row always has len(Columns()) cells; absent optional values render as
// empty strings.
type Record interface {
	Key() string
	Columns() []string
	Row() []string
}

// listSep joins multi-valued cells.
const listSep = "; "

func itoa(n int) string { return strconv.Itoa(n) }

func optString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func optInt(n *int) string {
	if n == nil {
		return ""
	}
	return strconv.Itoa(*n)
}

func optInt64(n *int64) string {
	if n == nil {
		return ""
	}
	return strconv.FormatInt(*n, 10)
}

func joinList(vs []string) string {
	return strings.Join(vs, listSep)
}

// ColumnsFor returns the output schema of source, or nil if unknown.
func ColumnsFor(source string) []string {
	switch source {
	case SourceLeetCode:
		return LeetCodeColumns
	case SourceGitHub:
		return GitHubColumns
	case SourceStackOverflow:
		return StackOverflowColumns
	}
	return nil
}
