package events

// Classify decides whether ev is alert-worthy. Only Warning events qualify;
// the returned context has no log excerpt attached yet.
func Classify(ev ClusterEvent) (FailureContext, bool) {
	if ev.Type != TypeWarning {
		return FailureContext{}, false
	}

	return FailureContext{
		ObjectKind: ev.InvolvedObjectKind,
		ObjectName: ev.InvolvedObjectName,
		Namespace:  ev.InvolvedObjectNamespace,
		Reason:     ev.Reason,
		Message:    ev.Message,
	}, true
}
