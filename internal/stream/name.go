// Package stream holds the naming rules for the streams linktrunc reads
// and writes.
package stream

import "strings"

const (
	// CategoryPrefix marks a by-category link stream.
	CategoryPrefix = "$ce-"

	// EventTypePrefix marks a by-event-type link stream.
	EventTypePrefix = "$et-"

	// SystemPrefix marks system streams and system projections.
	SystemPrefix = "$"

	// MetadataEventType is the type of stream metadata events. A link that
	// resolves to one is dead.
	MetadataEventType = "$metadata"
)

// IsTruncatable reports whether the stream is a link stream that may be
// truncated. Only by-category and by-event-type streams qualify.
func IsTruncatable(name string) bool {
	return strings.HasPrefix(name, CategoryPrefix) || strings.HasPrefix(name, EventTypePrefix)
}

// IsSystem reports whether name is a system stream or system projection.
func IsSystem(name string) bool {
	return strings.HasPrefix(name, SystemPrefix)
}

// Category strips the link stream prefix: "$ce-Order" yields "Order".
// Names without a system prefix are returned unchanged.
func Category(name string) string {
	switch {
	case strings.HasPrefix(name, CategoryPrefix):
		return strings.TrimPrefix(name, CategoryPrefix)
	case strings.HasPrefix(name, EventTypePrefix):
		return strings.TrimPrefix(name, EventTypePrefix)
	case IsSystem(name):
		if i := strings.IndexByte(name, '-'); i >= 0 {
			return name[i+1:]
		}
		return strings.TrimPrefix(name, SystemPrefix)
	default:
		return name
	}
}

// SubscriptionCheckpoint names the stream a persistent subscription group
// writes its checkpoints to.
func SubscriptionCheckpoint(stream, group string) string {
	return "$persistentsubscription-" + stream + "::" + group + "-checkpoint"
}

// ProjectionCheckpoint names the stream a projection writes its checkpoints to.
func ProjectionCheckpoint(projection string) string {
	return "$projections-" + projection + "-checkpoint"
}

// Metadata names the metadata stream of a stream.
func Metadata(name string) string {
	return "$$" + name
}
