// Package cmd implements the pipeline command line: a one-shot run, a store
// statistics report and a long-running HTTP service.
package cmd
