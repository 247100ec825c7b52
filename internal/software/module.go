// Package software implements the software-management collaborator:
// discovering per-package-manager plugins and running
// list/install/remove/prepare/finalize requests against them, plus the
// agent loop that turns cloud-originated update requests into plugin
// invocations.
package software

// Module is one software package: type, name, an optional version and
// download URL, and an action. Action only appears on update requests
// (install/remove); list responses never carry it.
type Module struct {
	Type    string `json:"-"`
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
	URL     string `json:"url,omitempty"`
	Action  string `json:"action,omitempty"`
}

const (
	ActionInstall = "install"
	ActionRemove  = "remove"
)

// Inventory maps software type to its ordered list of modules.
type Inventory map[string][]Module

// UpdateRequest is one cloud-originated software/update request, keyed by
// correlation id so the executing/successful/failed lifecycle can be
// tracked across the async plugin calls.
type UpdateRequest struct {
	ID         string
	UpdateList map[string][]Module // type -> modules to install/remove
}

// ModuleFailure records one module's install/remove failure for
// aggregation into the terminal status.
type ModuleFailure struct {
	Type   string
	Module Module
	Reason string
}
