package autograd

// PostAccHook observes a leaf after a successful accumulation, e.g. a
// gradient-synchronization step that consumes the updated slot. Hooks run
// synchronously on the accumulating goroutine, outside the node lock.
type PostAccHook func(v *Variable)

// SetPostAccHook registers the node's single post-accumulation hook.
// Passing nil removes it. Registering a hook widens the expected
// reference count used by the aliasing decision, since the scheduler
// holds an extra temporary reference while the hook is pending.
func (n *AccumulateNode) SetPostAccHook(hook PostAccHook) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.postHook = hook
}

// PostAccHookRegistered reports whether a hook is currently registered.
func (n *AccumulateNode) PostAccHookRegistered() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.postHook != nil
}
