// Package registry maintains the on-disk metadata index over recorded
// track files: directory scanning with structural validation, metadata
// extraction, discovery, export and removal.
package registry
