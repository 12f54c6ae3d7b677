package iotcore

import "time"

// PublishEvent fans an unregistered, fire-and-forget event through the
// pipeline, §4.9. Unlike telemetry/alarms, events carry no persistent
// registry entry — every call is independent, matching the source's
// event_publish being a thin wrapper directly over the plugin pipeline.
func (l *Library) PublishEvent(name string, v Value, at time.Time) error {
	if name == "" || len(name) > NameMax {
		return withMessage(BadParameter, "event name length invalid")
	}
	l.Plugins.Perform(l, OpEventPublish, NewDeadline(0), PipelineItem{
		Item:  eventRef{Name: name, At: at},
		Value: v,
	})
	return nil
}

// eventRef is the PipelineItem.Item payload carried for OpEventPublish.
type eventRef struct {
	Name string
	At   time.Time
}
