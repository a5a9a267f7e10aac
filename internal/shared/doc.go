// Package shared groups helpers used across the idylle packages that belong
// to no single layer.
//
// The testutil subpackage provides a buffered slog handler for asserting on
// log output:
//
//	logger, logs := testutil.NewTestLogger(t)
//	app := app.New(app.WithLogger(logger))
//	...
//	testutil.AssertLogContains(t, logs, slog.LevelInfo, "boot complete")
//
// Nothing here may import a domain package.
package shared
