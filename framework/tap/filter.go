package tap

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/spf13/afero"
)

// RegexFilters decides which failures are already known about. A failing test that matches
// one of the Suppress patterns is reported, but does not make the run fail.
type RegexFilters struct {
	Suppress TestIDPatternList
}

func (r RegexFilters) Suppressed(id TestID) bool {
	return r.Suppress.AnyMatch(id, false)
}

// TestIDPattern matches a TestID one component at a time. A pattern with fewer components than
// the ID matches everything under it.
type TestIDPattern []*regexp.Regexp

func (p TestIDPattern) Match(id TestID, includeParents bool) bool {
	min := len(p)
	if min > len(id) {
		if !includeParents {
			return false
		}
		min = len(id)
	}
	for i := 0; i < min; i++ {
		if !p[i].MatchString(id[i]) {
			return false
		}
	}
	return true
}

func (p TestIDPattern) String() string {
	ss := make([]string, 0, len(p))
	for _, c := range p {
		ss = append(ss, c.String())
	}
	return strings.Join(ss, "/")
}

func ParseTestIDPattern(s string) (TestIDPattern, error) {
	parts := strings.Split(s, "/")
	ret := make(TestIDPattern, 0, len(parts))
	for _, part := range parts {
		rx, err := regexp.Compile(part)
		if err != nil {
			return nil, fmt.Errorf("invalid regex: %w", err)
		}
		ret = append(ret, rx)
	}
	return ret, nil
}

type TestIDPatternList []TestIDPattern

func (l TestIDPatternList) String() string {
	ss := make([]string, 0, len(l))
	for _, p := range l {
		ss = append(ss, `"`+p.String()+`"`)
	}
	return strings.Join(ss, " or ")
}

// Set is called by the command line parser
func (l *TestIDPatternList) Set(value string) error {
	p, err := ParseTestIDPattern(value)
	if err != nil {
		return err
	}
	*l = append(*l, p)
	return nil
}

// Type is called by the command line parser to describe the flag's value
func (l *TestIDPatternList) Type() string {
	return "pattern"
}

func (l TestIDPatternList) IsDefined() bool {
	return len(l) != 0
}

func (l TestIDPatternList) AnyMatch(id TestID, includeParents bool) bool {
	for _, p := range l {
		if p.Match(id, includeParents) {
			return true
		}
	}
	return false
}

// LoadSuppressions reads a file of known failures, one test ID per line as printed in the
// failure summary, and adds them to filters. The lines are matched literally.
func LoadSuppressions(fs afero.Fs, path string, filters *RegexFilters) error {
	file, err := fs.Open(path)
	if err != nil {
		return fmt.Errorf("cannot open provided suppression file: %w", err)
	}
	defer func() { _ = file.Close() }()
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		// Ignore blank lines
		if strings.TrimSpace(line) == "" {
			continue
		}
		escaped := regexp.QuoteMeta(line)
		if err := filters.Suppress.Set(escaped); err != nil {
			return fmt.Errorf("cannot parse suppression: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("while processing suppression file: %w", err)
	}
	return nil
}

// PrintFilterDescription describes any known-failure patterns that are in effect.
func PrintFilterDescription(w io.Writer, filters RegexFilters) {
	if filters.Suppress.IsDefined() {
		fmt.Fprintln(w, "Failures of some tests will be ignored based on the filter criteria for this test run:")
		fmt.Fprintf(w, "  ignore any matching %s\n", filters.Suppress)
		fmt.Fprintln(w)
	}
}
