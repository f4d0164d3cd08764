// Package pulse defines the domain types shared by the collection pipeline,
// the scan orchestrator, and the provider adapters, along with the narrow
// collaborator interfaces each stage depends on.
package pulse
