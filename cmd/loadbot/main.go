// Command loadbot drives simulated racers against a running kart race server.
//
// Every bot registers (optionally), logs in, takes a lobby seat, readies up
// and streams telemetry and the occasional collision until the first bot
// declares a win. Rounds repeat until -rounds is reached.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

func main() {
	addr := flag.String("addr", "localhost:5000", "Game server TCP address")
	bots := flag.Int("bots", 2, "Number of simulated racers per round")
	rounds := flag.Int("rounds", 1, "Number of races to run")
	prefix := flag.String("prefix", "bot", "Account name prefix")
	password := flag.String("password", "loadbot", "Account password")
	register := flag.Bool("register", true, "Register accounts before logging in")
	raceFor := flag.Duration("race", 5*time.Second, "How long each race lasts")
	interval := flag.Duration("interval", 50*time.Millisecond, "Telemetry interval")
	timeout := flag.Duration("timeout", time.Minute, "Per-round timeout")
	verbose := flag.Bool("v", false, "Verbose output")
	flag.Parse()

	if *verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}
	log := logrus.WithField("app", "loadbot")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	failed := 0
	for round := 1; round <= *rounds; round++ {
		log.WithField("round", round).Infof("Starting race with %d bots", *bots)

		opts := make([]Options, *bots)
		for i := range opts {
			opts[i] = Options{
				Addr:              *addr,
				Name:              botName(*prefix, i),
				Password:          *password,
				Register:          *register,
				RaceFor:           *raceFor,
				TelemetryInterval: *interval,
				DeclareWin:        i == 0,
			}
		}

		roundCtx, cancel := context.WithTimeout(ctx, *timeout)
		results, errs := runRound(roundCtx, opts, log)
		cancel()

		for i, res := range results {
			entry := log.WithFields(logrus.Fields{
				"round":   round,
				"bot":     res.Name,
				"slot":    res.Slot,
				"sent":    res.Sent,
				"events":  res.Events,
				"elapsed": res.Elapsed.Round(time.Millisecond),
			})
			if errs[i] != nil {
				failed++
				entry.WithError(errs[i]).Error("Bot failed")
				continue
			}
			entry.WithFields(logrus.Fields{
				"outcome": res.Outcome,
				"winner":  res.Winner,
				"won":     res.Won,
			}).Info("Bot finished")
		}

		if ctx.Err() != nil {
			break
		}
	}

	if failed > 0 {
		log.Errorf("%d bot runs failed", failed)
		os.Exit(1)
	}
}

// runRound runs one bot per option concurrently and waits for all of them.
// No bot readies up before every bot is seated or has failed, so the lobby
// starts a single race with the whole field.
func runRound(ctx context.Context, opts []Options, log *logrus.Entry) ([]Result, []error) {
	results := make([]Result, len(opts))
	errs := make([]error, len(opts))

	var seated sync.WaitGroup
	seated.Add(len(opts))
	allSeated := make(chan struct{})
	go func() {
		seated.Wait()
		close(allSeated)
	}()

	var wg sync.WaitGroup
	for i, o := range opts {
		arrive := sync.OnceFunc(seated.Done)
		o.Gate = func(ctx context.Context) error {
			arrive()
			select {
			case <-allSeated:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer arrive()
			results[i], errs[i] = NewBot(o, log).Run(ctx)
		}()
	}
	wg.Wait()
	return results, errs
}
