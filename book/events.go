package book

import (
	"go.uber.org/zap"
)

// EventKind classifies recoverable problems met during assembly.
type EventKind int

const (
	// EventImageRejected - image reference is neither known nor absolute,
	// element was removed.
	EventImageRejected EventKind = iota + 1
	// EventImageUpgraded - plain http image reference was switched to https.
	EventImageUpgraded
	// EventImageDropped - image could not be fetched, element was removed.
	EventImageDropped
	// EventStyleResourceDropped - resource referenced by stylesheet could
	// not be fetched, reference left untouched.
	EventStyleResourceDropped
	// EventContentFallback - content could not be parsed and was used as is.
	EventContentFallback
	// EventNavigationHazard - volume has neither container page nor
	// chapters, navigation entry has no target.
	EventNavigationHazard
)

func (k EventKind) String() string {
	switch k {
	case EventImageRejected:
		return "image rejected"
	case EventImageUpgraded:
		return "image upgraded"
	case EventImageDropped:
		return "image dropped"
	case EventStyleResourceDropped:
		return "style resource dropped"
	case EventContentFallback:
		return "content fallback"
	case EventNavigationHazard:
		return "navigation hazard"
	}
	return "unknown"
}

// Event is advisory notification, none of them stops assembly.
type Event struct {
	Kind EventKind
	// URL of the resource involved, if any.
	URL string
	// Path of the archive entry involved, if any.
	Path string
	Err  error
}

// Listener receives events synchronously on the goroutine which caused them.
type Listener func(Event)

func (d *Document) notify(events ...Event) {
	for _, ev := range events {
		fields := []zap.Field{zap.Stringer("event", ev.Kind)}
		if ev.URL != "" {
			fields = append(fields, zap.String("url", ev.URL))
		}
		if ev.Path != "" {
			fields = append(fields, zap.String("path", ev.Path))
		}
		if ev.Err != nil {
			fields = append(fields, zap.Error(ev.Err))
		}
		switch ev.Kind {
		case EventImageUpgraded:
			d.log.Debug("Resource reference changed", fields...)
		default:
			d.log.Warn("Problem while assembling book", fields...)
		}
		if d.listener != nil {
			d.listener(ev)
		}
	}
}
