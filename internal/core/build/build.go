// Package build carries the service identity stamped onto every log line.
package build

import "github.com/oklog/ulid/v2"

const ServiceName = "resilience-workflow"

// Version is overridden at link time via -ldflags.
var Version = "dev"

// GlobalInstanceId identifies this process instance across restarts.
var GlobalInstanceId = ulid.Make().String() //nolint:gochecknoglobals // process identity
