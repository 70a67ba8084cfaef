// Package framework contains the implementation of the browser test harness. The base
// package contains shared types such as Logger; the components are in subpackages.
//
// The general model is:
//
// 1. The archive package packages the extension build into a zip artifact.
//
// 2. The browser package launches a browser with that artifact installed, and exposes its
// windows and tabs as execution contexts along with the browser console log.
//
// 3. The harness package finds the extension's own context, streams TAP lines out of the
// console log, and owns the mock service process and the teardown of everything it started.
//
// 4. The tap package interprets the streamed TAP lines and reports results.
package framework
