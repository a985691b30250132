// Package store persists users, time preferences and plant records.
//
// The reminder core treats it as an external capability that may be down;
// every method can return ErrUnavailable and callers degrade gracefully.
package store
