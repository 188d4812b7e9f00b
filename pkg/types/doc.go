// Package types defines the entities, store interfaces, configuration and
// standard error values shared by the codecards storage backends and the
// editor session coordinator.
package types
