// Package memory provides guest linear memories.
//
// Linear is a host-owned memory used for processes that have not been bound
// to an engine instance yet, and as the target of fork and snapshot clones.
// Wrapper adapts a wazero api.Memory to the wasix.Memory contract.
package memory
