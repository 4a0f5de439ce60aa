package handlers

import "time"

// SetKeepAlive меняет интервалы ping/pong для новых соединений
func SetKeepAlive(pongWait, pingPeriod time.Duration) (restore func()) {
	prevWait, prevPeriod := wsPongWait, wsPingPeriod
	wsPongWait, wsPingPeriod = pongWait, pingPeriod
	return func() { wsPongWait, wsPingPeriod = prevWait, prevPeriod }
}
