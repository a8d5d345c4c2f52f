package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wricardo/kartrace/game/protocol"
	"github.com/wricardo/kartrace/game/race"
)

var (
	ErrLoginFailed    = errors.New("login failed")
	ErrLobbyFull      = errors.New("lobby is full")
	ErrConnectionLost = errors.New("connection lost")
)

// Options configures one simulated racer
type Options struct {
	Addr     string
	Name     string
	Password string
	// Register creates the account first; an existing account is not an error
	Register bool
	// RaceFor is how long the bot drives before declaring a win
	RaceFor time.Duration
	// TelemetryInterval is the pause between SEND_TELEMETRY lines
	TelemetryInterval time.Duration
	// DeclareWin makes this bot claim the race after RaceFor
	DeclareWin bool
	// Gate, when set, is called once the bot holds a seat and must return
	// before it sends PLAYER_READY
	Gate func(ctx context.Context) error
}

// Result is what one bot observed
type Result struct {
	Name    string
	Slot    int
	Won     bool
	Winner  string
	Outcome race.Outcome
	Sent    int
	Events  map[string]int
	Elapsed time.Duration
}

// Bot drives one protocol client through login, lobby and a race
type Bot struct {
	opts   Options
	conn   net.Conn
	events chan protocol.Event
	done   chan struct{}
	log    *logrus.Entry
	result Result
}

// NewBot creates a bot; nothing is dialed until Run
func NewBot(opts Options, log *logrus.Entry) *Bot {
	if opts.TelemetryInterval <= 0 {
		opts.TelemetryInterval = 50 * time.Millisecond
	}
	return &Bot{
		opts: opts,
		log:  log.WithField("bot", opts.Name),
		result: Result{
			Name:   opts.Name,
			Events: make(map[string]int),
		},
	}
}

// Run plays one race and disconnects.
func (b *Bot) Run(ctx context.Context) (Result, error) {
	started := time.Now()
	defer func() { b.result.Elapsed = time.Since(started) }()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", b.opts.Addr)
	if err != nil {
		return b.result, fmt.Errorf("dial %s: %w", b.opts.Addr, err)
	}
	b.conn = conn
	defer conn.Close()

	b.events = make(chan protocol.Event, 64)
	b.done = make(chan struct{})
	defer close(b.done)
	go b.readLoop()

	if err := b.login(ctx); err != nil {
		return b.result, err
	}
	start, err := b.joinAndReady(ctx)
	if err != nil {
		return b.result, err
	}
	if err := b.race(ctx, start); err != nil {
		return b.result, err
	}

	b.send(protocol.EndConnection{})
	return b.result, nil
}

func (b *Bot) readLoop() {
	defer close(b.events)
	scanner := bufio.NewScanner(b.conn)
	for scanner.Scan() {
		evt, err := protocol.DecodeEvent(scanner.Text())
		if err != nil {
			b.log.WithError(err).Debug("Undecodable event")
			continue
		}
		select {
		case b.events <- evt:
		case <-b.done:
			return
		}
	}
}

func (b *Bot) send(cmd protocol.Command) error {
	b.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_, err := fmt.Fprintf(b.conn, "%s\n", cmd.Line())
	if err == nil && cmd.Name() == protocol.CmdSendTelemetry {
		b.result.Sent++
	}
	return err
}

// next returns the next event, counting it
func (b *Bot) next(ctx context.Context) (protocol.Event, error) {
	select {
	case evt, ok := <-b.events:
		if !ok {
			return nil, ErrConnectionLost
		}
		b.result.Events[evt.Name()]++
		return evt, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// await skips events until match accepts one
func (b *Bot) await(ctx context.Context, match func(protocol.Event) bool) (protocol.Event, error) {
	for {
		evt, err := b.next(ctx)
		if err != nil {
			return nil, err
		}
		if match(evt) {
			return evt, nil
		}
	}
}

func (b *Bot) login(ctx context.Context) error {
	if b.opts.Register {
		if err := b.send(protocol.Register{User: b.opts.Name, Password: b.opts.Password}); err != nil {
			return err
		}
		if _, err := b.await(ctx, isType[protocol.RegisterResult]); err != nil {
			return err
		}
	}

	if err := b.send(protocol.Login{User: b.opts.Name, Password: b.opts.Password}); err != nil {
		return err
	}
	evt, err := b.await(ctx, isType[protocol.LoginResult])
	if err != nil {
		return err
	}
	if !evt.(protocol.LoginResult).OK {
		return ErrLoginFailed
	}
	return nil
}

func (b *Bot) joinAndReady(ctx context.Context) (protocol.MatchStarted, error) {
	if err := b.send(protocol.RequestLobbyData{}); err != nil {
		return protocol.MatchStarted{}, err
	}
	evt, err := b.await(ctx, func(e protocol.Event) bool {
		return isType[protocol.LobbyData](e) || isType[protocol.LobbyDataFailure](e)
	})
	if err != nil {
		return protocol.MatchStarted{}, err
	}
	data, ok := evt.(protocol.LobbyData)
	if !ok {
		return protocol.MatchStarted{}, ErrLobbyFull
	}
	b.result.Slot = data.Slot
	b.log.WithFields(logrus.Fields{"slot": data.Slot, "vehicle": data.Vehicle}).Info("Seated")

	if b.opts.Gate != nil {
		if err := b.opts.Gate(ctx); err != nil {
			return protocol.MatchStarted{}, err
		}
	}

	if err := b.send(protocol.SetReady{Ready: true}); err != nil {
		return protocol.MatchStarted{}, err
	}
	evt, err = b.await(ctx, isType[protocol.MatchStarted])
	if err != nil {
		return protocol.MatchStarted{}, err
	}
	return evt.(protocol.MatchStarted), nil
}

func (b *Bot) race(ctx context.Context, start protocol.MatchStarted) error {
	b.log.WithFields(logrus.Fields{"map": start.Map, "slots": start.Slots}).Info("Race started")

	var opponents []int
	for _, slot := range start.Slots {
		if slot != b.result.Slot {
			opponents = append(opponents, slot)
		}
	}

	ticker := time.NewTicker(b.opts.TelemetryInterval)
	defer ticker.Stop()
	finish := time.NewTimer(b.opts.RaceFor)
	defer finish.Stop()
	finishC := finish.C
	if !b.opts.DeclareWin {
		finishC = nil
	}

	for tick := 0; ; tick++ {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-ticker.C:
			b.send(protocol.SendTelemetry{Telemetry: b.position(tick)})
			if len(opponents) > 0 && tick%10 == 9 {
				b.send(protocol.SendCollision{Collision: race.Collision{
					SlotA:     b.result.Slot,
					SlotB:     opponents[tick%len(opponents)],
					Timestamp: time.Now().Add(100 * time.Millisecond).UnixMilli(),
					SpeedA:    12,
					SpeedB:    9.5,
				}})
			}

		case <-finishC:
			return b.claimWin(ctx)

		case evt, ok := <-b.events:
			if !ok {
				return ErrConnectionLost
			}
			b.result.Events[evt.Name()]++
			switch e := evt.(type) {
			case protocol.RaceResult:
				b.result.Winner = e.User
				b.result.Outcome = race.OutcomeWinner
				return nil
			case protocol.MatchEnded:
				b.result.Outcome = e.Reason
				return nil
			}
		}
	}
}

// claimWin declares the win and confirms the match is over. A RACE_RESULT
// arriving first means another racer got there before us.
func (b *Bot) claimWin(ctx context.Context) error {
	if err := b.send(protocol.DeclareWin{}); err != nil {
		return err
	}
	if err := b.send(protocol.RequestServerStage{}); err != nil {
		return err
	}

	evt, err := b.await(ctx, func(e protocol.Event) bool {
		return isType[protocol.ServerStage](e) || isType[protocol.RaceResult](e)
	})
	if err != nil {
		return err
	}
	b.result.Outcome = race.OutcomeWinner
	if rr, ok := evt.(protocol.RaceResult); ok {
		b.result.Winner = rr.User
		return nil
	}
	b.result.Won = true
	b.result.Winner = b.opts.Name
	return nil
}

// position moves the kart around a circle, one step per tick
func (b *Bot) position(tick int) race.Telemetry {
	angle := float64(tick) * 0.1
	radius := 50 + float64(b.result.Slot)*5
	return race.Telemetry{
		Slot:     b.result.Slot,
		Rotation: math.Mod(angle*180/math.Pi+90, 360),
		Speed:    10 + float64(tick%5),
		X:        radius * math.Cos(angle),
		Y:        radius * math.Sin(angle),
	}
}

func isType[T protocol.Event](e protocol.Event) bool {
	_, ok := e.(T)
	return ok
}

// botName returns the account name of bot i. Spaces and underscores are
// not allowed in account names.
func botName(prefix string, i int) string {
	return strings.NewReplacer(" ", "-", "_", "-").Replace(fmt.Sprintf("%s%d", prefix, i))
}
