package channel

// Baton passes exclusive control between a driver and one worker goroutine.
// At any moment exactly one side runs; the other is parked in a receive.
type Baton struct {
	toWorker chan struct{}
	toDriver chan struct{}
}

func NewBaton() *Baton {
	return &Baton{
		toWorker: make(chan struct{}),
		toDriver: make(chan struct{}),
	}
}

// Resume is called by the driver. It runs the worker until it yields or
// finishes.
func (b *Baton) Resume() {
	b.toWorker <- struct{}{}
	<-b.toDriver
}

// Await parks the worker until its first Resume.
func (b *Baton) Await() {
	<-b.toWorker
}

// Yield returns control to the driver and parks until the next Resume.
func (b *Baton) Yield() {
	b.toDriver <- struct{}{}
	<-b.toWorker
}

// Finish returns control to the driver for the last time.
func (b *Baton) Finish() {
	b.toDriver <- struct{}{}
}
