package main

import (
	"database/sql"
	"fmt"

	"github.com/fury-esports/furybot/go/internal/events"
	"github.com/fury-esports/furybot/go/internal/gameday"
	"github.com/fury-esports/furybot/go/internal/notify"
	"github.com/fury-esports/furybot/go/internal/practice"
	"github.com/fury-esports/furybot/go/internal/scrim"
	"github.com/fury-esports/furybot/go/internal/teams"
	"github.com/fury-esports/furybot/go/internal/timers"
	"github.com/jonboulle/clockwork"
)

type Services struct {
	Dispatcher *timers.Dispatcher
	Timers     *timers.Manager
	Teams      *teams.App
	Gamedays   *gameday.App
	Scrims     *scrim.App
	Practices  *practice.App
}

func setupServices(database *sql.DB, cfg *Config, notifier notify.Notifier) (*Services, error) {
	// Wire up dependency injection chain
	// Database layer → Repository layer → App layer → timer listeners
	clock := clockwork.NewRealClock()

	dispatcher := timers.NewDispatcher(nil)
	manager := timers.NewManager(timers.NewRepository(database), dispatcher, cfg.Timers, timers.WithClock(clock))

	// Teams
	teamsApp := teams.NewApp(teams.NewRepository(database))

	// Gamedays and sub-finding
	gamedayApp := gameday.NewApp(gameday.NewRepository(database), teamsApp, manager, notifier, clock, cfg.Gameday)
	gamedayApp.Register(dispatcher)

	// Scrims
	scrimApp := scrim.NewApp(scrim.NewRepository(database), teamsApp, manager, notifier, clock, cfg.Scrim)
	scrimApp.Register(dispatcher)

	// Practices
	practiceApp := practice.NewApp(practice.NewRepository(database), teamsApp, notifier, clock)

	if err := dispatcher.Validate(events.Kinds()...); err != nil {
		return nil, fmt.Errorf("timer listeners incomplete: %w", err)
	}

	return &Services{
		Dispatcher: dispatcher,
		Timers:     manager,
		Teams:      teamsApp,
		Gamedays:   gamedayApp,
		Scrims:     scrimApp,
		Practices:  practiceApp,
	}, nil
}
