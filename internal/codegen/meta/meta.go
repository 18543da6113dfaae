package meta

import (
	"github.com/Alia5/rtebind/internal/codegen/locator"
	"github.com/Alia5/rtebind/internal/codegen/scanner"
	"github.com/Alia5/rtebind/internal/codegen/shim"
)

// Metadata holds everything one pipeline run has resolved so far.
// Shared between the orchestrator and the compile, emit and link stages.
type Metadata struct {
	Library *locator.Library
	Surface *scanner.Surface
	Shims   *shim.Set
	// BuildDir holds the umbrella header, shim sources and shim archive.
	BuildDir string
	// OutDir is the generated Go package.
	OutDir      string
	ShimArchive string
	Fingerprint string
	ToolVersion string
}
