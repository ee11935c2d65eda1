package gtop

import (
	"strconv"
	"strings"

	"github.com/gtagsdb/gtags/internal/gerr"
)

// EncodeRunList collapses a sorted, duplicate-free, ascending slice of
// positive line numbers into spec.md §3's canonical run-list form:
// runs of three or more consecutive integers become "a-b"; pairs and
// singletons stay literal; entries are comma-separated.
func EncodeRunList(lines []int) string {
	if len(lines) == 0 {
		return ""
	}
	var parts []string
	i := 0
	for i < len(lines) {
		j := i
		for j+1 < len(lines) && lines[j+1] == lines[j]+1 {
			j++
		}
		runLen := j - i + 1
		if runLen >= 3 {
			parts = append(parts, strconv.Itoa(lines[i])+"-"+strconv.Itoa(lines[j]))
		} else {
			for k := i; k <= j; k++ {
				parts = append(parts, strconv.Itoa(lines[k]))
			}
		}
		i = j + 1
	}
	return strings.Join(parts, ",")
}

// DecodeRunList expands a run-list back into the full ascending line
// sequence, validating canonical (strictly ascending, no duplicates)
// form along the way.
func DecodeRunList(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	var out []int
	for _, part := range strings.Split(s, ",") {
		if dash := strings.IndexByte(part, '-'); dash >= 0 {
			lo, err := strconv.Atoi(part[:dash])
			if err != nil {
				return nil, gerr.Wrap(gerr.CorruptDatabase, err, "gtop: bad run-list range start")
			}
			hi, err := strconv.Atoi(part[dash+1:])
			if err != nil {
				return nil, gerr.Wrap(gerr.CorruptDatabase, err, "gtop: bad run-list range end")
			}
			if hi <= lo {
				return nil, gerr.New(gerr.CorruptDatabase, "gtop: non-canonical run-list range")
			}
			for v := lo; v <= hi; v++ {
				out = append(out, v)
			}
		} else {
			v, err := strconv.Atoi(part)
			if err != nil {
				return nil, gerr.Wrap(gerr.CorruptDatabase, err, "gtop: bad run-list value")
			}
			out = append(out, v)
		}
	}
	for i := 1; i < len(out); i++ {
		if out[i] <= out[i-1] {
			return nil, gerr.New(gerr.CorruptDatabase, "gtop: run-list not strictly ascending")
		}
	}
	return out, nil
}
