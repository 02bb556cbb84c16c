package dialback

import (
	"context"
	"time"
)

// sweepPeriod is how often Sweep runs when driven by StartSweeper; short
// enough that idleTimeout/packetTimeout are enforced within a few seconds
// of expiry rather than only on the next inbound/outbound event.
const sweepPeriod = 5 * time.Second

// StartSweeper runs Sweep on a ticker until ctx is done, mirroring
// mio.Manager.Heartbeat's pattern of a single background goroutine
// driving every tracked connection's timers.
func (i *Instance) StartSweeper(ctx context.Context) {
	ticker := time.NewTicker(sweepPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			i.Sweep(now)
		}
	}
}

// Sweep closes outbound links idle past idleTimeout and fails outbound
// connection attempts still pending past packetTimeout, bouncing
// whatever is left queued on them. Inbound half-open streams
// (inAwaitingResult/inVerifying) older than packetTimeout are dropped
// since no db:result/db:verify answer is coming.
func (i *Instance) Sweep(now time.Time) {
	i.mu.Lock()
	var expiredOK []struct {
		remote string
		d      *dboc
	}
	for remote, d := range i.outOKDB {
		if now.Sub(d.lastUse) > idleTimeout {
			expiredOK = append(expiredOK, struct {
				remote string
				d      *dboc
			}{remote, d})
		}
	}
	for _, e := range expiredOK {
		delete(i.outOKDB, e.remote)
	}
	for remote, d := range i.outOKLegacy {
		if now.Sub(d.lastUse) > idleTimeout {
			expiredOK = append(expiredOK, struct {
				remote string
				d      *dboc
			}{remote, d})
			delete(i.outOKLegacy, remote)
		}
	}

	var expiredConnecting []struct {
		remote string
		d      *dboc
	}
	for remote, d := range i.outConnecting {
		if now.Sub(d.lastUse) > packetTimeout {
			expiredConnecting = append(expiredConnecting, struct {
				remote string
				d      *dboc
			}{remote, d})
		}
	}

	var staleIn []*dbic
	for id, d := range i.inByID {
		if (d.state == inAwaitingResult || d.state == inVerifying) && now.Sub(d.lastUse) > packetTimeout {
			staleIn = append(staleIn, d)
			delete(i.inByID, id)
		}
	}
	i.mu.Unlock()

	for _, e := range expiredOK {
		if e.d.conn != nil {
			e.d.conn.Close()
		}
	}
	for _, e := range expiredConnecting {
		i.failOutbound(e.remote, e.d)
	}
	for _, d := range staleIn {
		if d.conn != nil {
			d.conn.Close()
		}
	}
}
