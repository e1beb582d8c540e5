// Copyright (C) 2022 Saji Champlin. All Rights Reserved.

package server

import "expvar"

// serverMetrics record server activity counters.
type serverMetrics struct {
	connAccepted  expvar.Int
	connClosed    expvar.Int
	connFailed    expvar.Int // connections dropped for protocol or transport errors
	frameRecv     expvar.Int
	frameSent     expvar.Int
	broadcasts    expvar.Int
	directSends   expvar.Int
	offlineQueued expvar.Int

	emap *expvar.Map
}

var rootMetrics = newServerMetrics()

func newServerMetrics() *serverMetrics {
	sm := &serverMetrics{emap: new(expvar.Map)}
	sm.emap.Set("conns_accepted", &sm.connAccepted)
	sm.emap.Set("conns_closed", &sm.connClosed)
	sm.emap.Set("conns_failed", &sm.connFailed)
	sm.emap.Set("frames_received", &sm.frameRecv)
	sm.emap.Set("frames_sent", &sm.frameSent)
	sm.emap.Set("broadcasts", &sm.broadcasts)
	sm.emap.Set("direct_sends", &sm.directSends)
	sm.emap.Set("offline_queued", &sm.offlineQueued)
	return sm
}
