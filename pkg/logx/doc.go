// Package logx is scriptwatch's structured logger: a thin layer over zerolog
// whose loggers follow runtime reconfiguration (config hot reload).
//
// Console output is human readable and goes to stderr, so the "test"
// notification backend owns stdout. The optional file sink is JSON.
package logx
