// Package buildinfo holds build-time identity of the application.
package buildinfo

// Name is the canonical application name used in logs and status files.
const Name = "borgtend"

// Version holds the application's version string. It's a `var` so it can
// be set at compile time using ldflags.
// Example: go build -ldflags="-X github.com/borgtend/borgtend/pkg/buildinfo.Version=1.0.0"
var Version = "dev"
