package syncengine

import "context"

// armAnswerTimer starts the one-shot answer timer: 30s after Phase 1
// kickoff, any neighbor still in waitingForReply is marked Bad, and if
// quorum already holds despite that, the round finishes anyway.
func (e *Engine) armAnswerTimer(ctx context.Context) {
	e.mu.Lock()
	if e.answerTimer != nil {
		e.answerTimer.Stop()
	}
	e.answerTimer = newTimer(answerTimerInterval, func() { e.onAnswerTimer(ctx) })
	e.mu.Unlock()
}

func (e *Engine) onAnswerTimer(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for id, waiting := range e.round.waitingForReply {
		if waiting {
			e.round.neighborStatus[id] = Bad
		}
	}
	if e.actualSync() {
		e.finishRoundLocked(ctx)
	}
}

// armFinishTimer (re)starts the 30s finish timer used during fetch: if
// no progress has been made since the last tick, outstanding hashes are
// re-requested; otherwise the timer just restarts.
func (e *Engine) armFinishTimer(ctx context.Context) {
	e.mu.Lock()
	if e.finishTimer != nil {
		e.finishTimer.Stop()
	}
	e.finishTimer = newTimer(finishTimerInterval, func() { e.onFinishTimer(ctx) })
	e.mu.Unlock()
}

func (e *Engine) onFinishTimer(ctx context.Context) {
	e.mu.Lock()

	if e.state == Initial && len(e.round.needDownload) == 0 {
		e.mu.Unlock()
		e.Reset(ctx)
		return
	}
	if e.actualSync() {
		e.finishRoundLocked(ctx)
		e.mu.Unlock()
		return
	}
	if e.state == SyncStepOne {
		// still waiting on more PART_HASH batches; just keep waiting.
		e.mu.Unlock()
		e.armFinishTimer(ctx)
		return
	}

	stalled := !e.checkProgressLocked()
	needDownload := e.round.needDownload
	e.mu.Unlock()

	if stalled {
		e.retryFetch(ctx, needDownload)
	}
	e.armFinishTimer(ctx)
}

// checkProgressLocked compares this tick's need-download size against
// the last observed one, detecting a stalled round. Must be called
// with e.mu held.
func (e *Engine) checkProgressLocked() bool {
	if e.round.lastObservedNeedDownload == 0 && len(e.round.needDownload) > 0 {
		e.round.lastObservedNeedDownload = len(e.round.needDownload)
		return true
	}
	progressed := len(e.round.needDownload) < e.round.lastObservedNeedDownload
	e.round.lastObservedNeedDownload = len(e.round.needDownload)
	return progressed
}
