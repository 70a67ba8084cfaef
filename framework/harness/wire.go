package harness

import "strings"

const (
	// DefaultWirePrefix marks a console message as harness output: a marker followed by two spaces.
	DefaultWirePrefix = "TAP:  "

	// DefaultEndMarker follows the prefix on the line that ends the test output.
	DefaultEndMarker = "END"
)

// LineKind classifies a console message.
type LineKind int

const (
	// LineIgnored is a message that is not harness output.
	LineIgnored LineKind = iota
	// LinePayload is harness output to forward.
	LinePayload
	// LineEnd is the sentinel that ends the run.
	LineEnd
)

// WireFormat describes how test output is embedded in console messages.
type WireFormat struct {
	Prefix    string
	EndMarker string
}

// DefaultWireFormat returns the TAP console format.
func DefaultWireFormat() WireFormat {
	return WireFormat{Prefix: DefaultWirePrefix, EndMarker: DefaultEndMarker}
}

// Sentinel is the string whose presence in a message ends the run.
func (w WireFormat) Sentinel() string {
	return w.Prefix + w.EndMarker
}

// DecodeLine classifies a console message and, for LinePayload, returns the text following the
// prefix with trailing whitespace and double quotes removed. Browsers often report console
// strings quoted, which is where the quotes come from.
func (w WireFormat) DecodeLine(message string) (string, LineKind) {
	if strings.Contains(message, w.Sentinel()) {
		return "", LineEnd
	}
	i := strings.Index(message, w.Prefix)
	if i < 0 {
		return "", LineIgnored
	}
	return strings.TrimRight(message[i+len(w.Prefix):], " \t\r\n\v\f\""), LinePayload
}
