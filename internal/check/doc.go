// Package check turns the raw result of one script execution into an Outcome.
//
// A script reports success by exiting 0 with empty stderr and printing a
// manifest as its first stdout line:
//
//	{"interval": 60, "only_if_changed": false}
//	All good
//
// Every line after the manifest is the notification text. Anything else
// (non-zero exit, stderr output, no stdout, a malformed manifest) is a Failure.
package check
