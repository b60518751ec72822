package state

// Task tracks one background transcription. It outlives the call that
// dispatched it; failures are recorded on the message, and also here.
type Task struct {
	MessageID string

	done chan struct{}
	err  error
}

func newTask(messageID string) *Task {
	return &Task{MessageID: messageID, done: make(chan struct{})}
}

func (t *Task) finish(err error) {
	t.err = err
	close(t.done)
}

// Done is closed when the task has finished.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Err is the task's failure, valid after Done is closed.
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Wait blocks until the task finishes and returns its error.
func (t *Task) Wait() error {
	<-t.done
	return t.err
}
