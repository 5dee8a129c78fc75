// Package buildinfo exposes build information injected via ldflags:
//
//	go build -ldflags "-X github.com/yndnr/clustersnap-go/internal/infra/buildinfo.Version=v1.0.0 \
//	  -X github.com/yndnr/clustersnap-go/internal/infra/buildinfo.Commit=abc123"
//
// GoVersion falls back to the running toolchain version when not injected.
package buildinfo
