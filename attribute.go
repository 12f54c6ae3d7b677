package iotcore

// PublishAttribute reports a slow-changing device property (firmware
// version, hardware model, serial number, ...) through the pipeline,
// §4.9. Like events, attributes have no registry: each publish is a
// standalone pipeline traversal.
func (l *Library) PublishAttribute(name string, v Value) error {
	if name == "" || len(name) > NameMax {
		return withMessage(BadParameter, "attribute name length invalid")
	}
	l.Plugins.Perform(l, OpAttributePublish, NewDeadline(0), PipelineItem{
		Item:  attributeRef{Name: name},
		Value: v,
	})
	return nil
}

// attributeRef is the PipelineItem.Item payload carried for
// OpAttributePublish.
type attributeRef struct {
	Name string
}
