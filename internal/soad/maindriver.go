package soad

// MainFunction is the periodic driver: it advances every configured
// connection by one tick, in ascending connection-id order. Called by the
// host scheduler in the tick context, never concurrently with any other
// Adaptor method.
func (a *Adaptor) MainFunction() {
	if !a.initialized() {
		a.reportDevError("MainFunction", DevErrorNotInitialized)
		return
	}
	unlock := a.lockReentrancy("MainFunction")
	defer unlock()

	for i := range a.conns {
		a.tick(SoConID(i))
	}
}
