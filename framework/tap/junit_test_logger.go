package tap

import (
	"encoding/xml"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"
)

type JUnitTestLogger struct {
	fs       afero.Fs
	filePath string
	filters  RegexFilters
	tests    []jUnitTestStatus // in the order they were reported
	last     time.Time
	lock     sync.Mutex
}

type jUnitTestStatus struct {
	result   TestResult
	duration time.Duration
}

// Struct definitions for the JUnit XML schema - see https://github.com/jstemmer/go-junit-report

type jUnitXMLDocument struct {
	XMLName xml.Name            `xml:"testsuites"`
	Suites  []jUnitXMLTestSuite `xml:"testsuite"`
}

type jUnitXMLTestSuite struct {
	XMLName    xml.Name           `xml:"testsuite"`
	Tests      int                `xml:"tests,attr"`
	Failures   int                `xml:"failures,attr"`
	Time       string             `xml:"time,attr"`
	Name       string             `xml:"name,attr"`
	Properties []jUnitXMLProperty `xml:"properties>property,omitempty"`
	TestCases  []jUnitXMLTestCase `xml:"testcase"`
}

type jUnitXMLTestCase struct {
	XMLName     xml.Name             `xml:"testcase"`
	Classname   string               `xml:"classname,attr"`
	Name        string               `xml:"name,attr"`
	Time        string               `xml:"time,attr"`
	SkipMessage *jUnitXMLSkipMessage `xml:"skipped,omitempty"`
	Failure     *jUnitXMLFailure     `xml:"failure,omitempty"`
}

type jUnitXMLSkipMessage struct {
	Message string `xml:"message,attr"`
}

type jUnitXMLProperty struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

type jUnitXMLFailure struct {
	Message  string `xml:"message,attr"`
	Type     string `xml:"type,attr"`
	Contents string `xml:",chardata"`
}

const ungroupedSuiteName = "tests"

// NewJUnitTestLogger creates a TestLogger that writes a JUnit XML report to filePath on fs when
// the run ends. Tests are grouped into suites by their TAP group.
func NewJUnitTestLogger(fs afero.Fs, filePath string, filters RegexFilters) *JUnitTestLogger {
	return &JUnitTestLogger{
		fs:       fs,
		filePath: filePath,
		filters:  filters,
		last:     time.Now(),
	}
}

func (j *JUnitTestLogger) TestFinished(result TestResult) {
	j.lock.Lock()
	defer j.lock.Unlock()
	now := time.Now()
	j.tests = append(j.tests, jUnitTestStatus{result: result, duration: now.Sub(j.last)})
	j.last = now
}

func (j *JUnitTestLogger) EndLog(results Results) error {
	j.lock.Lock()
	defer j.lock.Unlock()

	properties := []jUnitXMLProperty{
		{
			Name:  "tests.filter.suppress",
			Value: j.filters.Suppress.String(),
		},
	}
	if results.Planned.IsDefined() {
		properties = append(properties, jUnitXMLProperty{
			Name:  "tests.planned",
			Value: fmt.Sprint(results.Planned.Value()),
		})
	}
	if results.BailOut.IsDefined() {
		properties = append(properties, jUnitXMLProperty{
			Name:  "tests.bailOut",
			Value: results.BailOut.Value(),
		})
	}

	var doc jUnitXMLDocument
	for _, group := range j.groupNames() {
		suite := jUnitXMLTestSuite{
			Name:       fmt.Sprintf("Extension tests: %s", group),
			Properties: properties,
		}
		suiteTotalDuration := time.Duration(0)
		for _, status := range j.tests {
			if groupName(status.result.TestID) != group {
				continue
			}
			suite.Tests++
			suiteTotalDuration += status.duration

			testCase := jUnitXMLTestCase{
				Classname: group,
				Name:      status.result.TestID.String(),
				Time:      jUnitDurationString(status.duration),
			}
			switch status.result.Status {
			case StatusFailed:
				suite.Failures++
				testCase.Failure = &jUnitXMLFailure{
					Message:  fmt.Sprintf("not ok %d", status.result.Number),
					Contents: strings.Join(status.result.Diagnostics, "\n"),
				}
			case StatusSuppressed:
				testCase.Name += " (known failure)"
				testCase.SkipMessage = &jUnitXMLSkipMessage{Message: "known failure"}
			case StatusSkipped, StatusTodo:
				testCase.SkipMessage = &jUnitXMLSkipMessage{Message: status.result.Reason}
			}
			suite.TestCases = append(suite.TestCases, testCase)
		}
		suite.Time = jUnitDurationString(suiteTotalDuration)
		doc.Suites = append(doc.Suites, suite)
	}

	bytes, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	bytes = append(bytes, '\n')

	return afero.WriteFile(j.fs, j.filePath, bytes, 0644)
}

func (j *JUnitTestLogger) groupNames() []string {
	var ret []string
	seen := make(map[string]bool)
	for _, status := range j.tests {
		name := groupName(status.result.TestID)
		if !seen[name] {
			ret = append(ret, name)
			seen[name] = true
		}
	}
	return ret
}

func groupName(id TestID) string {
	if len(id) < 2 {
		return ungroupedSuiteName
	}
	return id[:len(id)-1].String()
}

func jUnitDurationString(d time.Duration) string {
	return fmt.Sprintf("%.3f", d.Seconds())
}
