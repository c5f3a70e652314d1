package autolabel

// Notifier carries the optional observer callbacks used to surface
// progress, errors, and completion while a long running call executes.
// Synchronous callers can ignore it entirely and rely on return values,
// a UI layer can subscribe and treat the stream as fire-and-forget.
//
// All fields may be nil and a nil *Notifier is safe to emit on.
// Callbacks are invoked inline from the goroutine executing the engine
// or orchestrator call, so they must not block.
type Notifier struct {
	// OnProgress receives percentage in the range [0,100] and a short
	// human readable message
	OnProgress func(percentage int, message string)
	// OnError receives failure descriptions in addition to the error
	// being returned from the failing call
	OnError func(message string)
	// OnComplete receives the finished annotation result
	OnComplete func(result *AnnotationResult)
}

// Progress emits a progress event
func (n *Notifier) Progress(percentage int, message string) {
	if n == nil || n.OnProgress == nil {
		return
	}

	n.OnProgress(percentage, message)
}

// Error emits an error notification
func (n *Notifier) Error(message string) {
	if n == nil || n.OnError == nil {
		return
	}

	n.OnError(message)
}

// Complete emits the completion notification
func (n *Notifier) Complete(result *AnnotationResult) {
	if n == nil || n.OnComplete == nil {
		return
	}

	n.OnComplete(result)
}
