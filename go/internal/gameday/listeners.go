package gameday

import (
	"github.com/fury-esports/furybot/go/internal/events"
	"github.com/fury-esports/furybot/go/internal/timers"
)

// Register wires the gameday timer listeners into d.
func (a *App) Register(d *timers.Dispatcher) {
	timers.On(d, events.GamedayVotingStart, a.OpenVoting)
	timers.On(d, events.GamedayVotingEnd, a.CloseVoting)
	timers.On(d, events.SubFindingEnd, a.EndSubFinding)
	timers.On(d, events.GamedayStart, a.StartGameday)
	d.OnTimer(events.GamedayEnd, a.EndGameday)
}
