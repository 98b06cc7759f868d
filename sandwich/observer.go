package sandwich

// Observer receives the events of every round in order: Placed by the agent
// after selection, Started and Finished by the woken holder around its
// action, Acknowledged by the agent once the holder has signalled back.
//
// Methods are called from the agent and holder goroutines and must not block.
type Observer interface {
	Placed(r Round)
	Started(r Round)
	Finished(r Round)
	Acknowledged(r Round)
}

type nopObserver struct{}

func (nopObserver) Placed(Round)       {}
func (nopObserver) Started(Round)      {}
func (nopObserver) Finished(Round)     {}
func (nopObserver) Acknowledged(Round) {}

type multiObserver []Observer

// MultiObserver fans every event out to all observers in argument order.
func MultiObserver(obs ...Observer) Observer {
	return multiObserver(obs)
}

func (m multiObserver) Placed(r Round) {
	for _, o := range m {
		o.Placed(r)
	}
}

func (m multiObserver) Started(r Round) {
	for _, o := range m {
		o.Started(r)
	}
}

func (m multiObserver) Finished(r Round) {
	for _, o := range m {
		o.Finished(r)
	}
}

func (m multiObserver) Acknowledged(r Round) {
	for _, o := range m {
		o.Acknowledged(r)
	}
}
