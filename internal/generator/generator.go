// Package generator produces labeled traffic records, either from built-in
// synthetic profiles or by replaying a capture, and streams them as JSON
// lines to a TCP target.
package generator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"net"
	"sync"
	"time"

	"Go2NetLogger/internal/config"
	"Go2NetLogger/internal/model"
	"Go2NetLogger/internal/retry"
)

const (
	ModeSynth  = "synth"
	ModeReplay = "replay"
)

type activeProfile struct {
	Profile
	weight float64
}

// Generator runs the configured traffic source against one target.
type Generator struct {
	cfg      config.GeneratorConfig
	sender   *Sender
	dest     string
	profiles []activeProfile
	replay   *Replayer

	sleep func(ctx context.Context, d time.Duration) error
}

// New validates cfg and prepares the generator.
func New(cfg config.GeneratorConfig) (*Generator, error) {
	policy, err := retry.NewPolicy(cfg.Retry)
	if err != nil {
		return nil, fmt.Errorf("invalid generator retry: %w", err)
	}
	dialTimeout, err := config.ParseDuration(cfg.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid dial timeout: %w", err)
	}
	host, _, err := net.SplitHostPort(cfg.TargetAddr)
	if err != nil {
		return nil, fmt.Errorf("invalid target address %q: %w", cfg.TargetAddr, err)
	}

	g := &Generator{
		cfg:    cfg,
		sender: NewSender(cfg.TargetAddr, dialTimeout, policy),
		dest:   host,
		sleep:  sleepCtx,
	}

	switch cfg.Mode {
	case ModeSynth:
		if cfg.RateMultiplier <= 0 {
			return nil, fmt.Errorf("rate_multiplier must be positive in synth mode, got %v", cfg.RateMultiplier)
		}
		if err := g.selectProfiles(); err != nil {
			return nil, err
		}
	case ModeReplay:
		if cfg.PcapFile == "" {
			return nil, errors.New("replay mode needs generator.pcap_file")
		}
		flowTimeout, err := config.ParseDuration(cfg.FlowTimeout)
		if err != nil {
			return nil, fmt.Errorf("invalid flow timeout: %w", err)
		}
		g.replay = NewReplayer(cfg.PcapFile, cfg.RateMultiplier, flowTimeout, cfg.ReplayLabel, cfg.ReplayTag)
	default:
		return nil, fmt.Errorf("unknown generator mode %q", cfg.Mode)
	}
	return g, nil
}

func (g *Generator) selectProfiles() error {
	if len(g.cfg.Profiles) == 0 {
		for _, name := range ProfileNames() {
			p, _ := LookupProfile(name)
			g.profiles = append(g.profiles, activeProfile{Profile: p, weight: 1})
		}
		return nil
	}
	for _, def := range g.cfg.Profiles {
		p, ok := LookupProfile(def.Name)
		if !ok {
			return fmt.Errorf("unknown traffic profile %q (known: %v)", def.Name, ProfileNames())
		}
		if !def.Enabled {
			continue
		}
		w := def.Weight
		if w <= 0 {
			w = 1
		}
		g.profiles = append(g.profiles, activeProfile{Profile: p, weight: w})
	}
	if len(g.profiles) == 0 {
		return errors.New("no traffic profile enabled")
	}
	return nil
}

// Sent returns the number of records delivered to the target.
func (g *Generator) Sent() uint64 { return g.sender.Sent() }

// Run streams records until ctx ends, the capture is exhausted, or the
// target stays unreachable past the retry budget.
func (g *Generator) Run(ctx context.Context) error {
	defer g.sender.Close()

	if g.replay != nil {
		_, err := g.replay.Run(ctx, func(r model.EventRecord) error {
			return g.sender.Send(ctx, r)
		})
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, len(g.profiles))
	for i, p := range g.profiles {
		wg.Add(1)
		go func(p activeProfile, seed int64) {
			defer wg.Done()
			log.Printf("Generator: starting %s traffic (%s)", p.Name, p.Class)
			if err := g.runProfile(ctx, p, seed); err != nil {
				errCh <- fmt.Errorf("profile %s: %w", p.Name, err)
				cancel()
			}
		}(p, time.Now().UnixNano()+int64(i))
	}
	wg.Wait()
	close(errCh)
	return <-errCh
}

func (g *Generator) runProfile(ctx context.Context, p activeProfile, seed int64) error {
	rng := rand.New(rand.NewSource(seed))
	scale := g.cfg.RateMultiplier * p.weight
	wait := func(d time.Duration) error {
		return g.sleep(ctx, time.Duration(float64(d)/scale))
	}

	for {
		n := between(rng, p.Burst[0], p.Burst[1])
		build := p.newBurst(rng, g.dest)
		for i := 0; i < n; i++ {
			if err := g.sender.Send(ctx, build(i, time.Now())); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			if i < n-1 {
				if err := wait(betweenDur(rng, p.Spacing)); err != nil {
					return nil
				}
			}
		}
		if err := wait(betweenDur(rng, p.Pause)); err != nil {
			return nil
		}
	}
}
