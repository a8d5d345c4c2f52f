// Command analyze prints quick, human-readable statistics about recorded
// races: per-map counts and durations, per-player win rates, and how often a
// match ended with nobody left to race against.
package main

import (
	"cmp"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wricardo/kartrace/game/race"
	"github.com/wricardo/kartrace/game/store"
)

// MapStats summarizes the races run on one map
type MapStats struct {
	Map      int
	Races    int
	Total    time.Duration
	Finished int
}

// Average returns the mean race duration
func (m MapStats) Average() time.Duration {
	if m.Races == 0 {
		return 0
	}
	return (m.Total / time.Duration(m.Races)).Round(time.Second)
}

// DriverStats summarizes one player's results
type DriverStats struct {
	Name  string
	Races int
	Wins  int
}

// WinRate is wins over races in percent
func (d DriverStats) WinRate() float64 {
	if d.Races == 0 {
		return 0
	}
	return float64(d.Wins) * 100 / float64(d.Races)
}

// Analysis is the aggregate over a set of race records
type Analysis struct {
	Races       int
	NoOpponents int
	Maps        []MapStats
	Drivers     []DriverStats
}

func main() {
	driver := flag.String("driver", "sqlite3", "Store driver (sqlite3, postgres)")
	dsn := flag.String("dsn", "kartrace.db", "Store data source name")
	limit := flag.Int("limit", 500, "Number of most recent races to analyze")
	flag.Parse()

	st, err := store.New(*driver, *dsn)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to open store")
	}
	defer st.Close()

	records, err := st.RecentRaces(context.Background(), *limit)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load races")
	}

	report(os.Stdout, analyze(records))
}

func analyze(records []race.Record) Analysis {
	maps := make(map[int]*MapStats)
	drivers := make(map[string]*DriverStats)

	a := Analysis{Races: len(records)}
	for _, rec := range records {
		if rec.Outcome == race.OutcomeNoOpponents {
			a.NoOpponents++
		}

		m, ok := maps[rec.Map]
		if !ok {
			m = &MapStats{Map: rec.Map}
			maps[rec.Map] = m
		}
		m.Races++
		m.Total += rec.FinishedAt.Sub(rec.StartedAt)
		if rec.Outcome == race.OutcomeWinner {
			m.Finished++
		}

		for _, p := range rec.Participants {
			d, ok := drivers[p.Name]
			if !ok {
				d = &DriverStats{Name: p.Name}
				drivers[p.Name] = d
			}
			d.Races++
			if rec.Outcome == race.OutcomeWinner && rec.Winner == p.Name {
				d.Wins++
			}
		}
	}

	for _, m := range maps {
		a.Maps = append(a.Maps, *m)
	}
	slices.SortFunc(a.Maps, func(x, y MapStats) int { return cmp.Compare(x.Map, y.Map) })

	for _, d := range drivers {
		a.Drivers = append(a.Drivers, *d)
	}
	slices.SortFunc(a.Drivers, func(x, y DriverStats) int {
		if c := cmp.Compare(y.Wins, x.Wins); c != 0 {
			return c
		}
		return cmp.Compare(x.Name, y.Name)
	})
	return a
}

func report(w io.Writer, a Analysis) {
	if a.Races == 0 {
		fmt.Fprintln(w, "No races recorded")
		return
	}

	fmt.Fprintf(w, "=== %d races ===\n", a.Races)
	fmt.Fprintf(w, "Ended without opponents: %d (%.0f%%)\n", a.NoOpponents, float64(a.NoOpponents)*100/float64(a.Races))

	fmt.Fprintln(w, "\nMaps:")
	for _, m := range a.Maps {
		fmt.Fprintf(w, "  map %d: %d races, %d with a winner, avg %s\n", m.Map, m.Races, m.Finished, m.Average())
	}

	fmt.Fprintln(w, "\nDrivers:")
	for _, d := range a.Drivers {
		fmt.Fprintf(w, "  %-16s %3d races %3d wins %5.1f%%\n", d.Name, d.Races, d.Wins, d.WinRate())
	}
}
