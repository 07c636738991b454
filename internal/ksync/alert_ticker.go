package ksync

import "time"

// alertPollInterval bounds how long a WaitAlertable caller can take to
// notice that it has been killed.
const alertPollInterval = 200 * time.Microsecond

type alertTicker struct {
	t *time.Ticker
	c <-chan time.Time
}

func newAlertTicker() *alertTicker {
	t := time.NewTicker(alertPollInterval)
	return &alertTicker{t: t, c: t.C}
}

func (a *alertTicker) stop() {
	a.t.Stop()
}
