// Package tap interprets the Test Anything Protocol lines that the extension's tests print, and
// reports the results on the console and as JUnit XML.
package tap
