package app

// Resolution is the per-stage choice between the default provider and the
// registered listeners. Listeners fully replace the default; the two never
// run together.
type Resolution struct {
	listeners []Listener
}

// UseDefault selects the stage's default provider
func UseDefault() Resolution {
	return Resolution{}
}

// UseListeners selects ls instead of the default. An empty ls is the same
// as UseDefault.
func UseListeners(ls []Listener) Resolution {
	return Resolution{listeners: ls}
}

// IsDefault reports whether the default provider runs
func (r Resolution) IsDefault() bool {
	return len(r.listeners) == 0
}

// Listeners returns the listeners to run, nil when the default runs
func (r Resolution) Listeners() []Listener {
	return r.listeners
}

// Resolve decides how stage runs, once, from what is registered now
func Resolve(l *Listeners, stage Stage) Resolution {
	if ls := l.For(stage); len(ls) > 0 {
		return UseListeners(ls)
	}
	return UseDefault()
}
