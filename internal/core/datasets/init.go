// Package datasets registers the published feed definitions with the core registry.
// Import this package for its side effects to make the dataset types available.
package datasets

// Each dataset file uses init() to register its definition.
