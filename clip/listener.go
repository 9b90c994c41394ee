package clip

// Listener observes one session. Terminal callbacks (OnCompleted, OnError,
// OnCanceled) are mutually exclusive and always delivered last. Callbacks
// must not block on the session they observe.
type Listener interface {
	OnProgress(fraction float64)
	OnLog(line string)
	OnCompleted(output string)
	OnError(err error)
	OnCanceled(reason CancelReason)
}

// ListenerFuncs adapts plain functions to Listener. Nil fields are skipped.
type ListenerFuncs struct {
	Progress  func(float64)
	Log       func(string)
	Completed func(string)
	Error     func(error)
	Canceled  func(CancelReason)
}

func (f ListenerFuncs) OnProgress(p float64) {
	if f.Progress != nil {
		f.Progress(p)
	}
}

func (f ListenerFuncs) OnLog(line string) {
	if f.Log != nil {
		f.Log(line)
	}
}

func (f ListenerFuncs) OnCompleted(output string) {
	if f.Completed != nil {
		f.Completed(output)
	}
}

func (f ListenerFuncs) OnError(err error) {
	if f.Error != nil {
		f.Error(err)
	}
}

func (f ListenerFuncs) OnCanceled(reason CancelReason) {
	if f.Canceled != nil {
		f.Canceled(reason)
	}
}
