package playrec

import "time"

// startProgressLocked begins periodic DidUpdate notifications for the
// current session. Any previous observer is stopped first.
func (pr *PlayerRecorder) startProgressLocked() {
	pr.stopProgressLocked()
	stop := make(chan struct{})
	pr.progress = stop
	go pr.observe(pr.session, stop, pr.interval)
}

func (pr *PlayerRecorder) stopProgressLocked() {
	if pr.progress != nil {
		close(pr.progress)
		pr.progress = nil
	}
}

func (pr *PlayerRecorder) observe(session uint64, stop chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			pr.mu.Lock()
			if pr.progress != stop {
				pr.mu.Unlock()
				return
			}
			pr.dispatch.push(notification{kind: notifyUpdate, session: session})
			pr.mu.Unlock()
		}
	}
}
